package api

import (
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/internal/auth/session"
	"spotline/cmd/internal/group"
	"spotline/cmd/internal/invite"
)

// ---- requests ----

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Pseudo   string `json:"pseudo"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type pseudoRequest struct {
	Pseudo string `json:"pseudo"`
}

type passwordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type settingsRequest struct {
	DarkMode      *bool   `json:"darkMode"`
	MapTile       *string `json:"mapTile"`
	Notifications *bool   `json:"notifications"`
}

type groupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type memberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type directInviteRequest struct {
	By       string `json:"by"`
	UserID   string `json:"userId,omitempty"`
	Email    string `json:"email,omitempty"`
	JoinAuto bool   `json:"joinAuto,omitempty"`
}

type linkInviteRequest struct {
	ExpiresInDays int `json:"expiresInDays,omitempty"`
	MaxUses       int `json:"maxUses,omitempty"`
}

type actionRequest struct {
	Action string `json:"action"`
}

type postMessageRequest struct {
	ClientMsgID   string  `json:"clientMsgId,omitempty"`
	Content       string  `json:"content"`
	ReferenceType *string `json:"referenceType,omitempty"`
	ReferenceID   *string `json:"referenceId,omitempty"`
}

// ---- responses ----

type userResponse struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Pseudo    string        `json:"pseudo"`
	Role      identity.Role `json:"role"`
	CreatedAt *time.Time    `json:"createdAt,omitempty"`
}

func toUserResponse(u identity.User) userResponse {
	created := u.CreatedAt
	return userResponse{ID: u.ID, Email: u.Email, Pseudo: u.Pseudo, Role: u.Role, CreatedAt: &created}
}

func principalResponse(p session.Principal) userResponse {
	return userResponse{ID: p.UserID, Email: p.Email, Pseudo: p.Pseudo, Role: p.Role}
}

type settingsResponse struct {
	DarkMode      bool       `json:"darkMode"`
	MapTile       string     `json:"mapTile"`
	Notifications bool       `json:"notifications"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

func toSettingsResponse(s identity.Settings) settingsResponse {
	out := settingsResponse{DarkMode: s.DarkMode, MapTile: s.MapTile, Notifications: s.Notifications}
	if !s.UpdatedAt.IsZero() {
		updated := s.UpdatedAt
		out.UpdatedAt = &updated
	}
	return out
}

type sessionResponse struct {
	ID         string    `json:"id"`
	Current    bool      `json:"current"`
	UserAgent  string    `json:"userAgent"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func toSessionResponse(r session.Row, currentID string) sessionResponse {
	return sessionResponse{
		ID:         r.ID,
		Current:    r.ID == currentID,
		UserAgent:  r.UserAgent,
		IP:         r.IP,
		CreatedAt:  r.CreatedAt,
		LastSeenAt: r.LastSeenAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

type groupResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatorID   string     `json:"creatorId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	MemberCount *int       `json:"memberCount,omitempty"`
	Role        group.Role `json:"role,omitempty"`
}

func toGroupResponse(g group.Group) groupResponse {
	return groupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		CreatorID:   g.CreatorID,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func toSummaryResponse(s group.Summary) groupResponse {
	out := toGroupResponse(s.Group)
	n := s.MemberCount
	out.MemberCount = &n
	out.Role = s.Role
	return out
}

type memberResponse struct {
	UserID   string     `json:"userId"`
	Pseudo   string     `json:"pseudo"`
	Role     group.Role `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

func toMemberResponse(m group.Member) memberResponse {
	return memberResponse{UserID: m.UserID, Pseudo: m.Pseudo, Role: m.Role, JoinedAt: m.JoinedAt}
}

type groupDetailResponse struct {
	groupResponse
	Members []memberResponse `json:"members"`
}

func toDetailResponse(d group.Detail) groupDetailResponse {
	out := groupDetailResponse{groupResponse: toGroupResponse(d.Group), Members: make([]memberResponse, 0, len(d.Members))}
	out.Role = d.Role
	for _, m := range d.Members {
		out.Members = append(out.Members, toMemberResponse(m))
	}
	return out
}

type directInviteResponse struct {
	Mode          invite.DirectMode `json:"mode"`
	InvitationID  string            `json:"invitationId,omitempty"`
	AlreadyMember bool              `json:"alreadyMember,omitempty"`
	Joined        bool              `json:"joined,omitempty"`
}

type linkInviteResponse struct {
	InvitationID string    `json:"invitationId"`
	Token        string    `json:"token"`
	URL          string    `json:"url"`
	ExpiresAt    time.Time `json:"expiresAt"`
	MaxUses      int       `json:"maxUses"`
}

type previewGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type previewResponse struct {
	Status        invite.PreviewStatus `json:"status"`
	AlreadyMember bool                 `json:"alreadyMember"`
	Group         *previewGroup        `json:"group,omitempty"`
}

func toPreviewResponse(p invite.Preview) previewResponse {
	out := previewResponse{Status: p.Status, AlreadyMember: p.AlreadyMember}
	if p.Group != nil {
		out.Group = &previewGroup{ID: p.Group.ID, Name: p.Group.Name, Description: p.Group.Description}
	}
	return out
}

type linkActResponse struct {
	Status        invite.Status `json:"status"`
	GroupID       string        `json:"groupId"`
	AlreadyMember bool          `json:"alreadyMember"`
}

// invitationResponse is the admin view of an invitation. Type is "direct" or "link".
type invitationResponse struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Status    invite.Status `json:"status"`
	Email     *string       `json:"email"`
	UserID    *string       `json:"userId"`
	Uses      int           `json:"uses"`
	MaxUses   *int          `json:"maxUses"`
	ExpiresAt *time.Time    `json:"expiresAt"`
	CreatedAt time.Time     `json:"createdAt"`
}

func toInvitationResponse(inv invite.Invitation) invitationResponse {
	return invitationResponse{
		ID:        inv.ID,
		Type:      inv.Kind(),
		Status:    inv.Status,
		Email:     inv.InviteeEmail,
		UserID:    inv.InviteeUserID,
		Uses:      inv.UsedCount,
		MaxUses:   inv.MaxUses,
		ExpiresAt: inv.ExpiresAt,
		CreatedAt: inv.CreatedAt,
	}
}

type receivedResponse struct {
	ID        string        `json:"id"`
	Status    invite.Status `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	Group     previewGroup  `json:"group"`
	Inviter   struct {
		ID     string `json:"id"`
		Pseudo string `json:"pseudo"`
	} `json:"inviter"`
}

func toReceivedResponse(r invite.Received) receivedResponse {
	out := receivedResponse{
		ID:        r.ID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Group:     previewGroup{ID: r.GroupID, Name: r.GroupName},
	}
	out.Inviter.ID = r.InviterID
	out.Inviter.Pseudo = r.InviterPseudo
	return out
}
