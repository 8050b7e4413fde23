package handler

import (
	"time"

	"github.com/hitoshi/skillswap/internal/model"
)

// userResponse は自分のプロフィールのAPIレスポンス。
type userResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name"`
	ProfileImageURL string    `json:"profile_image_url"`
	Bio             string    `json:"bio"`
	Credits         int       `json:"credits"`
	CreatedAt       time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		FullName:        u.FullName,
		ProfileImageURL: u.ProfileImageURL,
		Bio:             u.Bio,
		Credits:         u.Credits,
		CreatedAt:       u.CreatedAt,
	}
}

// identityResponse はゲートが解決したIdentityのAPIレスポンス。
type identityResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

func toIdentityResponse(id model.Identity) identityResponse {
	return identityResponse{
		ID:              id.UserID,
		Email:           id.Email,
		FullName:        id.FullName,
		ProfileImageURL: id.ProfileImageURL,
	}
}

// userSummaryResponse は他ユーザーの表示用情報。
type userSummaryResponse struct {
	ID              string `json:"id"`
	FullName        string `json:"full_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

func toUserSummaryResponse(s model.UserSummary) userSummaryResponse {
	return userSummaryResponse{ID: s.ID, FullName: s.FullName, ProfileImageURL: s.ProfileImageURL}
}

type connectionResponse struct {
	ID    string              `json:"id"`
	User  userSummaryResponse `json:"user"`
	Since time.Time           `json:"since"`
}

type incomingRequestResponse struct {
	ID        string              `json:"id"`
	Sender    userSummaryResponse `json:"sender"`
	CreatedAt time.Time           `json:"created_at"`
}

type connectionRequestResponse struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toConnectionRequestResponse(c *model.ConnectionRequest) connectionRequestResponse {
	return connectionRequestResponse{
		ID:         c.ID,
		SenderID:   c.SenderID,
		ReceiverID: c.ReceiverID,
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type messageResponse struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	SenderID     string    `json:"sender_id"`
	Content      string    `json:"content"`
	IsRead       bool      `json:"is_read"`
	SentAt       time.Time `json:"sent_at"`
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		SenderID:     m.SenderID,
		Content:      m.Content,
		IsRead:       m.IsRead,
		SentAt:       m.SentAt,
	}
}

type sessionResponse struct {
	ID              string    `json:"id"`
	OrganizerID     string    `json:"organizer_id"`
	ParticipantID   string    `json:"participant_id"`
	Title           string    `json:"title"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		OrganizerID:     s.OrganizerID,
		ParticipantID:   s.ParticipantID,
		Title:           s.Title,
		ScheduledAt:     s.ScheduledAt,
		DurationMinutes: s.DurationMinutes,
		Status:          string(s.Status),
	}
}

type groupSessionResponse struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creator_id"`
	Title            string    `json:"title"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	DurationMinutes  int       `json:"duration_minutes"`
	MaxParticipants  int       `json:"max_participants"`
	ParticipantCount int       `json:"participant_count"`
	Status           string    `json:"status"`
}

func toGroupSessionResponse(g *model.GroupSession) groupSessionResponse {
	return groupSessionResponse{
		ID:               g.ID,
		CreatorID:        g.CreatorID,
		Title:            g.Title,
		ScheduledAt:      g.ScheduledAt,
		DurationMinutes:  g.DurationMinutes,
		MaxParticipants:  g.MaxParticipants,
		ParticipantCount: g.ParticipantCount,
		Status:           string(g.Status),
	}
}

type notificationResponse struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Message     string        `json:"message"`
	ReferenceID string        `json:"reference_id"`
	Payload     model.Payload `json:"payload"`
	IsRead      bool          `json:"is_read"`
	CreatedAt   time.Time     `json:"created_at"`
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:          n.ID,
		Type:        string(n.Type),
		Message:     n.Message,
		ReferenceID: n.ReferenceID,
		Payload:     n.Payload,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
}
