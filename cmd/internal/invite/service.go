package invite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/identity/ids"
	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/group"
	"spotline/cmd/internal/mail"
	"spotline/cmd/security/token"

	"go.uber.org/zap"
)

// Groups is the slice of the group service the lifecycle depends on.
type Groups interface {
	Lookup(ctx context.Context, groupID string) (group.Group, error)
	CanInvite(ctx context.Context, g group.Group, userID string) (bool, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	Join(ctx context.Context, groupID, userID string, now time.Time) (bool, error)
}

// Users resolves invitees and inviters.
type Users interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
	FindByEmail(ctx context.Context, email string) (identity.User, error)
}

// Mailer queues notification emails without blocking.
type Mailer interface {
	Enqueue(m mail.Message) bool
}

// Recorder receives per-operation outcomes.
type Recorder interface {
	Invitation(op string, err error)
	InvitationsExpired(n int)
}

// Config bounds link invitations and builds share URLs.
type Config struct {
	BaseURL        string `env:"APP_BASE_URL" envDefault:"http://localhost:5173"`
	DefaultTTLDays int    `env:"INVITE_DEFAULT_TTL_DAYS" envDefault:"7"`
	DefaultMaxUses int    `env:"INVITE_DEFAULT_MAX_USES" envDefault:"5"`
	MaxTTLDays     int    `env:"INVITE_MAX_TTL_DAYS" envDefault:"90"`
	MaxUses        int    `env:"INVITE_MAX_USES" envDefault:"100"`
	TokenBytes     int    `env:"INVITE_TOKEN_BYTES" envDefault:"24"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:5173",
		DefaultTTLDays: 7,
		DefaultMaxUses: 5,
		MaxTTLDays:     90,
		MaxUses:        100,
		TokenBytes:     24,
	}
}

// Check validates bounds after the config has been parsed.
func (c Config) Check() error {
	switch {
	case c.MaxTTLDays < 1 || c.DefaultTTLDays < 1 || c.DefaultTTLDays > c.MaxTTLDays:
		return fmt.Errorf("invite ttl days invalid: default=%d max=%d", c.DefaultTTLDays, c.MaxTTLDays)
	case c.MaxUses < 1 || c.DefaultMaxUses < 1 || c.DefaultMaxUses > c.MaxUses:
		return fmt.Errorf("invite max uses invalid: default=%d max=%d", c.DefaultMaxUses, c.MaxUses)
	case c.TokenBytes < 16 || c.TokenBytes > 64:
		return fmt.Errorf("invite token bytes out of range [16..64]: %d", c.TokenBytes)
	}
	return nil
}

// DirectTarget names the invitee of a direct invitation: exactly one field is set.
type DirectTarget struct {
	UserID string
	Email  string
}

// CreateDirectInput describes a direct invitation.
type CreateDirectInput struct {
	GroupID   string
	InviterID string
	Target    DirectTarget
	// JoinAuto adds a known account straight away instead of leaving a pending invitation.
	JoinAuto bool
	Now      time.Time
}

// DirectResult reports what CreateDirect did. InvitationID is empty when no row was created.
type DirectResult struct {
	Mode          DirectMode
	InvitationID  string
	AlreadyMember bool
	Joined        bool
}

// CreateLinkInput describes a link invitation. Zero values select the configured defaults.
type CreateLinkInput struct {
	GroupID       string
	InviterID     string
	ExpiresInDays int
	MaxUses       int
	Now           time.Time
}

// Link is a freshly created link invitation. Token is only ever returned here.
type Link struct {
	Invitation Invitation
	Token      string
	URL        string
	ExpiresAt  time.Time
	MaxUses    int
}

// Preview is the read-only view of a link before acting on it.
type Preview struct {
	Status        PreviewStatus
	AlreadyMember bool
	// Group is set only when Status is ok.
	Group *group.Group
}

// LinkResult reports a link acceptance or decline.
type LinkResult struct {
	GroupID       string
	AlreadyMember bool
	Invitation    Invitation
}

// Received is an invitation addressed to the caller, with display fields.
type Received struct {
	Invitation
	GroupName     string
	InviterPseudo string
}

// Service implements the invitation lifecycle.
type Service struct {
	store  Store
	groups Groups
	users  Users
	mailer Mailer
	rec    Recorder
	tokens token.Hasher
	cfg    Config
	log    *zap.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithConfig overrides link limits, token size and the share URL base.
func WithConfig(cfg Config) Option {
	return func(s *Service) error {
		if err := cfg.Check(); err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithTokenHasher sets how link tokens are hashed at rest (default: SHA-256).
func WithTokenHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.tokens = h
		return nil
	}
}

// WithMailer enables invitation emails.
func WithMailer(m Mailer) Option {
	return func(s *Service) error {
		s.mailer = m
		return nil
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) error {
		s.rec = r
		return nil
	}
}

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, groups Groups, users Users, opts ...Option) (*Service, error) {
	const op = "invite.NewService"
	if store == nil || groups == nil || users == nil {
		return nil, fault.Invalid(op, "store, groups and users are required")
	}
	s := &Service{
		store:  store,
		groups: groups,
		users:  users,
		cfg:    DefaultConfig(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateDirect invites an account (by id or email) or an unregistered email address.
func (s *Service) CreateDirect(ctx context.Context, in CreateDirectInput) (res DirectResult, err error) {
	const op = "invite.CreateDirect"
	defer func() { s.record("create_direct", err) }()

	if err := ctx.Err(); err != nil {
		return DirectResult{}, err
	}
	userID := strings.TrimSpace(in.Target.UserID)
	email := strings.TrimSpace(in.Target.Email)
	if (userID == "") == (email == "") {
		return DirectResult{}, fault.Invalid(op, "exactly one of userId or email is required")
	}
	g, err := s.authorizedGroup(ctx, op, in.GroupID, in.InviterID)
	if err != nil {
		return DirectResult{}, err
	}
	now := nowOr(in.Now)

	byEmail := email != ""
	var invitee identity.User
	if byEmail {
		if len(email) > 254 || !identity.ValidEmail(email) {
			return DirectResult{}, fault.Invalid(op, "invalid email")
		}
		invitee, err = s.users.FindByEmail(ctx, email)
		if err != nil && !fault.Is(err, fault.ErrNotFound) {
			return DirectResult{}, err
		}
		if err != nil {
			return s.inviteUnknownEmail(ctx, g, in.InviterID, identity.NormalizeEmail(email), now)
		}
	} else {
		if invitee, err = s.users.GetByID(ctx, userID); err != nil {
			return DirectResult{}, err
		}
	}

	member, err := s.groups.IsMember(ctx, g.ID, invitee.ID)
	if err != nil {
		return DirectResult{}, err
	}
	if member {
		return DirectResult{Mode: ModeAlreadyMember, AlreadyMember: true}, nil
	}

	if in.JoinAuto {
		if _, err := s.groups.Join(ctx, g.ID, invitee.ID, now); err != nil {
			return DirectResult{}, err
		}
		mode := ModeUserIDJoined
		if byEmail {
			mode = ModeEmailJoined
		}
		return DirectResult{Mode: mode, Joined: true}, nil
	}

	inv, err := s.create(ctx, Invitation{
		GroupID:       g.ID,
		InviterID:     in.InviterID,
		InviteeUserID: strPtr(invitee.ID),
	}, now)
	if err != nil {
		return DirectResult{}, err
	}
	if !byEmail {
		return DirectResult{Mode: ModeUserIDPending, InvitationID: inv.ID}, nil
	}
	s.notify(ctx, g, in.InviterID, invitee.Email, true)
	return DirectResult{Mode: ModeEmailPending, InvitationID: inv.ID}, nil
}

func (s *Service) inviteUnknownEmail(ctx context.Context, g group.Group, inviterID, emailNorm string, now time.Time) (DirectResult, error) {
	inv, err := s.create(ctx, Invitation{
		GroupID:      g.ID,
		InviterID:    inviterID,
		InviteeEmail: strPtr(emailNorm),
	}, now)
	if err != nil {
		return DirectResult{}, err
	}
	s.notify(ctx, g, inviterID, emailNorm, false)
	return DirectResult{Mode: ModeEmailPending, InvitationID: inv.ID}, nil
}

// CreateLink creates a shareable link and returns its one-time plaintext token.
func (s *Service) CreateLink(ctx context.Context, in CreateLinkInput) (link Link, err error) {
	const op = "invite.CreateLink"
	defer func() { s.record("create_link", err) }()

	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	days := in.ExpiresInDays
	if days == 0 {
		days = s.cfg.DefaultTTLDays
	}
	if days < 1 || days > s.cfg.MaxTTLDays {
		return Link{}, fault.Invalid(op, fmt.Sprintf("expiresInDays must be between 1 and %d", s.cfg.MaxTTLDays))
	}
	maxUses := in.MaxUses
	if maxUses == 0 {
		maxUses = s.cfg.DefaultMaxUses
	}
	if maxUses < 1 || maxUses > s.cfg.MaxUses {
		return Link{}, fault.Invalid(op, fmt.Sprintf("maxUses must be between 1 and %d", s.cfg.MaxUses))
	}

	g, err := s.authorizedGroup(ctx, op, in.GroupID, in.InviterID)
	if err != nil {
		return Link{}, err
	}

	plain, err := token.NewOpaque(s.cfg.TokenBytes)
	if err != nil {
		return Link{}, err
	}
	now := nowOr(in.Now)
	expiresAt := now.AddDate(0, 0, days)
	inv, err := s.create(ctx, Invitation{
		GroupID:   g.ID,
		InviterID: in.InviterID,
		TokenHash: strPtr(s.tokens.Hash(plain)),
		ExpiresAt: &expiresAt,
		MaxUses:   &maxUses,
	}, now)
	if err != nil {
		return Link{}, err
	}
	return Link{
		Invitation: inv,
		Token:      plain,
		URL:        s.url("/invite/" + plain),
		ExpiresAt:  expiresAt,
		MaxUses:    maxUses,
	}, nil
}

// PreviewLink reports a link's state without changing it. Unknown tokens read as revoked.
func (s *Service) PreviewLink(ctx context.Context, tok, userID string, now time.Time) (Preview, error) {
	if err := ctx.Err(); err != nil {
		return Preview{}, err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Preview{Status: PreviewRevoked}, nil
	}
	inv, err := s.store.GetByTokenHash(ctx, s.tokens.Hash(tok))
	if err != nil {
		if fault.Is(err, fault.ErrNotFound) {
			return Preview{Status: PreviewRevoked}, nil
		}
		return Preview{}, err
	}

	status := linkPreview(inv, nowOr(now))
	if status != PreviewOK {
		return Preview{Status: status}, nil
	}
	g, err := s.groups.Lookup(ctx, inv.GroupID)
	if err != nil {
		return Preview{}, err
	}
	out := Preview{Status: PreviewOK, Group: &g}
	if userID != "" {
		if out.AlreadyMember, err = s.groups.IsMember(ctx, g.ID, userID); err != nil {
			return Preview{}, err
		}
	}
	return out, nil
}

// AcceptLink joins userID to the link's group, consuming one use unless already a member.
func (s *Service) AcceptLink(ctx context.Context, tok, userID string, now time.Time) (res LinkResult, err error) {
	const op = "invite.AcceptLink"
	defer func() { s.record("accept_link", err) }()

	hash, err := s.linkArgs(ctx, op, tok, userID)
	if err != nil {
		return LinkResult{}, err
	}
	inv, already, err := s.store.AcceptLink(ctx, hash, userID, nowOr(now))
	if err != nil {
		return LinkResult{}, err
	}
	return LinkResult{GroupID: inv.GroupID, AlreadyMember: already, Invitation: inv}, nil
}

// DeclineLink marks the link DECLINED for everyone holding it.
func (s *Service) DeclineLink(ctx context.Context, tok, userID string, now time.Time) (res LinkResult, err error) {
	const op = "invite.DeclineLink"
	defer func() { s.record("decline_link", err) }()

	hash, err := s.linkArgs(ctx, op, tok, userID)
	if err != nil {
		return LinkResult{}, err
	}
	inv, err := s.store.DeclineLink(ctx, hash, nowOr(now))
	if err != nil {
		return LinkResult{}, err
	}
	return LinkResult{GroupID: inv.GroupID, Invitation: inv}, nil
}

// Revoke cancels a pending invitation of groupID. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, groupID, invitationID, requesterID string, now time.Time) (inv Invitation, err error) {
	const op = "invite.Revoke"
	defer func() { s.record("revoke", err) }()

	if _, err := s.authorizedGroup(ctx, op, groupID, requesterID); err != nil {
		return Invitation{}, err
	}
	if strings.TrimSpace(invitationID) == "" {
		return Invitation{}, fault.Invalid(op, "missing invitation id")
	}
	return s.store.Revoke(ctx, groupID, invitationID, nowOr(now))
}

// ActDirect accepts or declines a direct invitation addressed to userID.
func (s *Service) ActDirect(ctx context.Context, invitationID, userID string, action Action, now time.Time) (inv Invitation, err error) {
	const op = "invite.ActDirect"
	defer func() { s.record("act_direct", err) }()

	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if _, ok := ParseAction(string(action)); !ok {
		return Invitation{}, fault.Invalid(op, "action must be accept or decline")
	}
	if strings.TrimSpace(invitationID) == "" || strings.TrimSpace(userID) == "" {
		return Invitation{}, fault.Invalid(op, "missing invitation or user id")
	}
	return s.store.ActDirect(ctx, invitationID, userID, action, nowOr(now))
}

// ListMine returns every invitation addressed to userID, newest first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]Received, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fault.Invalid("invite.ListMine", "missing user id")
	}
	invs, err := s.store.ListForInvitee(ctx, userID)
	if err != nil {
		return nil, err
	}

	groupNames := map[string]string{}
	pseudos := map[string]string{}
	out := make([]Received, 0, len(invs))
	for _, inv := range invs {
		name, ok := groupNames[inv.GroupID]
		if !ok {
			if g, err := s.groups.Lookup(ctx, inv.GroupID); err == nil {
				name = g.Name
			}
			groupNames[inv.GroupID] = name
		}
		pseudo, ok := pseudos[inv.InviterID]
		if !ok {
			if u, err := s.users.GetByID(ctx, inv.InviterID); err == nil {
				pseudo = u.Pseudo
			}
			pseudos[inv.InviterID] = pseudo
		}
		out = append(out, Received{Invitation: inv, GroupName: name, InviterPseudo: pseudo})
	}
	return out, nil
}

// ListForGroup returns the group's pending direct invitations and usable links.
func (s *Service) ListForGroup(ctx context.Context, groupID, requesterID string, now time.Time) ([]Invitation, error) {
	if _, err := s.authorizedGroup(ctx, "invite.ListForGroup", groupID, requesterID); err != nil {
		return nil, err
	}
	return s.store.ListActiveForGroup(ctx, groupID, nowOr(now))
}

// LinkEmailInvitations addresses pending invitations sent to email to userID.
// Statuses are left unchanged; the invitations then show up in ListMine.
func (s *Service) LinkEmailInvitations(ctx context.Context, userID, email string, now time.Time) (int, error) {
	norm := identity.NormalizeEmail(email)
	if strings.TrimSpace(userID) == "" || norm == "" {
		return 0, fault.Invalid("invite.LinkEmailInvitations", "missing user id or email")
	}
	return s.store.LinkEmail(ctx, userID, norm, nowOr(now))
}

// ReconcileOnLogin runs LinkEmailInvitations and only logs failures.
func (s *Service) ReconcileOnLogin(ctx context.Context, userID, email string) {
	n, err := s.LinkEmailInvitations(ctx, userID, email, time.Time{})
	if err != nil {
		s.log.Warn("invite.reconcile.fail", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("invite.reconcile", zap.String("user_id", userID), zap.Int("linked", n))
	}
}

// ExpireStale moves pending links past their expiry to EXPIRED.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.ExpireLinks(ctx, nowOr(now))
	if err != nil {
		return 0, err
	}
	if s.rec != nil {
		s.rec.InvitationsExpired(n)
	}
	return n, nil
}

func (s *Service) authorizedGroup(ctx context.Context, op, groupID, userID string) (group.Group, error) {
	if err := ctx.Err(); err != nil {
		return group.Group{}, err
	}
	if strings.TrimSpace(groupID) == "" || strings.TrimSpace(userID) == "" {
		return group.Group{}, fault.Invalid(op, "missing group or user id")
	}
	g, err := s.groups.Lookup(ctx, groupID)
	if err != nil {
		return group.Group{}, err
	}
	ok, err := s.groups.CanInvite(ctx, g, userID)
	if err != nil {
		return group.Group{}, err
	}
	if !ok {
		return group.Group{}, fault.Forbidden(op, "only the group creator or an admin can manage invitations")
	}
	return g, nil
}

func (s *Service) create(ctx context.Context, inv Invitation, now time.Time) (Invitation, error) {
	id, err := ids.New(now)
	if err != nil {
		return Invitation{}, err
	}
	inv.ID = id
	inv.Status = StatusPending
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return s.store.Create(ctx, inv)
}

func (s *Service) linkArgs(ctx context.Context, op, tok, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.TrimSpace(userID) == "" {
		return "", fault.Invalid(op, "missing token or user id")
	}
	return s.tokens.Hash(tok), nil
}

// notify queues the invitation email. Failures never reach the caller.
func (s *Service) notify(ctx context.Context, g group.Group, inviterID, to string, hasAccount bool) {
	if s.mailer == nil || strings.TrimSpace(to) == "" {
		return
	}
	var inviter string
	if u, err := s.users.GetByID(ctx, inviterID); err == nil {
		inviter = u.Pseudo
	}
	path := "/register"
	if hasAccount {
		path = "/invitations"
	}
	msg := mail.BuildInvitationEmail(mail.InvitationData{
		GroupName:     g.Name,
		InviterPseudo: inviter,
		ActionURL:     s.url(path),
		HasAccount:    hasAccount,
	})
	msg.To = to
	if !s.mailer.Enqueue(msg) {
		s.log.Warn("invite.email.send.fail", zap.String("group_id", g.ID), zap.Bool("has_account", hasAccount))
	}
}

func (s *Service) url(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + path
}

func (s *Service) record(op string, err error) {
	if s.rec != nil {
		s.rec.Invitation(op, err)
	}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
