package channels

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/directory"
	"github.com/MarcoPoloResearchLab/huddle/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "channels.service.new"
	opCreateChannel    = "channels.create_channel"
	opAddMembers       = "channels.add_members"
	opRemoveMember     = "channels.remove_member"
	opUpdateMemberRole = "channels.update_member_role"
	opLeaveChannel     = "channels.leave_channel"
	opArchive          = "channels.archive"
	opUnarchive        = "channels.unarchive"
	opUpdateSettings   = "channels.update_settings"
	opTogglePin        = "channels.toggle_pin"
	opChannelDetails   = "channels.get_details"
	opChannelSettings  = "channels.get_settings"
	opChannelMembers   = "channels.get_members"
	opMemberChannels   = "channels.member_channels"
	opProjectChannels  = "channels.project_channels"

	reasonStoreFailed      = "store_failed"
	reasonChannelNotFound  = "channel_not_found"
	reasonRequesterMissing = "requester_not_member"
	reasonNotManager       = "requester_not_admin"
	reasonInvalidInput     = "invalid_input"

	defaultMaxPinnedChannels = 5
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingDirectory = errors.New("member directory is required")
	errMissingNotifier  = errors.New("broadcast notifier is required")

	errIdentifierRequired = errors.New("identifier required")
)

// MemberDirectory resolves member identifiers to profiles. Identifiers that
// do not resolve are omitted from the result.
type MemberDirectory interface {
	ResolveMembers(ctx context.Context, ids []string) ([]directory.Profile, error)
}

// ServiceConfig describes the dependencies of the membership engine.
type ServiceConfig struct {
	Database          *gorm.DB
	Directory         MemberDirectory
	Notifier          broadcast.Notifier
	Clock             func() time.Time
	IDProvider        ids.Provider
	MaxPinnedChannels int
	Logger            *zap.Logger
}

// Service enforces membership, pin and archival rules over the channel store.
type Service struct {
	store      *Store
	directory  MemberDirectory
	notifier   broadcast.Notifier
	clock      func() time.Time
	idProvider ids.Provider
	maxPinned  int
	logger     *zap.Logger
}

// NewService validates cfg and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_database", "database handle is required", errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_directory", "member directory is required", errMissingDirectory)
	}
	if cfg.Notifier == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_notifier", "broadcast notifier is required", errMissingNotifier)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	maxPinned := cfg.MaxPinnedChannels
	if maxPinned <= 0 {
		maxPinned = defaultMaxPinnedChannels
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      NewStore(cfg.Database),
		directory:  cfg.Directory,
		notifier:   cfg.Notifier,
		clock:      clock,
		idProvider: idProvider,
		maxPinned:  maxPinned,
		logger:     logger,
	}, nil
}

// CreateChannelRequest describes a channel provisioned by the CRM.
type CreateChannelRequest struct {
	Name         string
	Type         ChannelType
	OwnerID      string
	IsPrivate    bool
	DepartmentID string
	ProjectID    string
	Settings     Settings
}

// CreateChannel persists a channel with its owner as the only member.
func (s *Service) CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error) {
	name := strings.TrimSpace(req.Name)
	ownerID := strings.TrimSpace(req.OwnerID)
	if name == "" || ownerID == "" || !req.Type.Valid() {
		return Channel{}, s.reject(apperrors.KindValidation, opCreateChannel, reasonInvalidInput, "name, type and owner are required")
	}
	channelID, err := s.idProvider.NewID()
	if err != nil {
		return Channel{}, s.internal(opCreateChannel, "id_generation_failed", err)
	}
	now := s.now()
	channel := Channel{
		ID:                   channelID,
		Name:                 name,
		Type:                 req.Type,
		CreatedBy:            ownerID,
		IsPrivate:            req.IsPrivate,
		DepartmentID:         strings.TrimSpace(req.DepartmentID),
		ProjectID:            strings.TrimSpace(req.ProjectID),
		AutoSyncEnabled:      req.Settings.AutoSyncEnabled,
		AllowExternalMembers: req.Settings.AllowExternalMembers,
		AdminOnlyPost:        req.Settings.AdminOnlyPost,
		AdminOnlyAdd:         req.Settings.AdminOnlyAdd,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	owner := ChannelMember{
		MemberID: ownerID,
		JoinedAt: now,
		AddedBy:  ownerID,
		AddedVia: AddedViaChannelCreate,
	}
	if err := s.store.CreateChannel(ctx, &channel, owner); err != nil {
		return Channel{}, s.internal(opCreateChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
	}
	return channel, nil
}

// ChannelIDsForMember lists the channels a member belongs to.
func (s *Service) ChannelIDsForMember(ctx context.Context, memberID string) ([]string, error) {
	channelIDs, err := s.store.ChannelIDsForMember(ctx, memberID)
	if err != nil {
		return nil, s.internal(opMemberChannels, reasonStoreFailed, err, zap.String("member_id", memberID))
	}
	return channelIDs, nil
}

// ChannelIDsForProject lists the active channels that serve as a project's
// rooms.
func (s *Service) ChannelIDsForProject(ctx context.Context, projectID string) ([]string, error) {
	channelIDs, err := s.store.ChannelIDsForProject(ctx, projectID)
	if err != nil {
		return nil, s.internal(opProjectChannels, reasonStoreFailed, err, zap.String("project_id", projectID))
	}
	return channelIDs, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// lockChannel loads the channel under a row lock.
func (s *Service) lockChannel(ctx context.Context, tx *Store, operation, channelID string) (Channel, error) {
	channel, err := tx.LockChannel(ctx, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		return Channel{}, s.reject(apperrors.KindNotFound, operation, reasonChannelNotFound, "channel not found")
	}
	if err != nil {
		return Channel{}, s.internal(operation, reasonStoreFailed, err, zap.String("channel_id", channelID))
	}
	return channel, nil
}

// requireMember returns the requester's membership row or a forbidden error.
func (s *Service) requireMember(ctx context.Context, tx *Store, operation, channelID, requesterID string) (ChannelMember, error) {
	member, err := tx.FindMember(ctx, channelID, requesterID)
	if errors.Is(err, ErrMemberNotFound) {
		return ChannelMember{}, s.reject(apperrors.KindForbidden, operation, reasonRequesterMissing, "you are not a member of this channel")
	}
	if err != nil {
		return ChannelMember{}, s.internal(operation, reasonStoreFailed, err, zap.String("channel_id", channelID))
	}
	return member, nil
}

// requireManager returns the requester's row when they are an admin or owner.
func (s *Service) requireManager(ctx context.Context, tx *Store, operation, channelID, requesterID string) (ChannelMember, error) {
	member, err := s.requireMember(ctx, tx, operation, channelID, requesterID)
	if err != nil {
		return ChannelMember{}, err
	}
	if !member.Role.CanManage() {
		return ChannelMember{}, s.reject(apperrors.KindForbidden, operation, reasonNotManager, "only channel admins can perform this action")
	}
	return member, nil
}

func (s *Service) reject(kind apperrors.Kind, operation, reason, message string) *apperrors.Error {
	err := apperrors.New(kind, operation, reason, message, nil)
	s.logger.Info("channel operation rejected",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("kind", string(kind)))
	return err
}

func (s *Service) internal(operation, reason string, cause error, fields ...zap.Field) *apperrors.Error {
	s.logError(operation, reason, cause, fields...)
	return apperrors.New(apperrors.KindInternal, operation, reason, "internal error", cause)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("channels service error", attrs...)
}

func requireIDs(values ...string) error {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return errIdentifierRequired
		}
	}
	return nil
}
