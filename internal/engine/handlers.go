package engine

import (
	"context"
	"log/slog"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/identity"
)

// HandleUserCreated adds a new account to the audience with the configured
// contact status.
func (e *Engine) HandleUserCreated(ctx context.Context, u identity.User) {
	e.handleUserCreated(ctx, e.rt.Load(), e.logger, u)
}

// HandleUserDeleted removes an account's member from the audience.
func (e *Engine) HandleUserDeleted(ctx context.Context, u identity.User) {
	e.handleUserDeleted(ctx, e.rt.Load(), e.logger, u)
}

// HandleDocumentWrite runs every feature whose watch path matches path.
// before is nil for a creation and after is nil for a deletion.
func (e *Engine) HandleDocumentWrite(ctx context.Context, path string, before, after map[string]any) {
	e.handleDocumentWrite(ctx, e.rt.Load(), e.logger, path, before, after)
}

// AddUser adds u to the audience without retrying. It returns the audience
// error unchanged so callers can treat "Member Exists" as they see fit.
func (e *Engine) AddUser(ctx context.Context, u identity.User) error {
	return e.addUser(ctx, e.rt.Load(), u)
}

func (e *Engine) addUser(ctx context.Context, rt *snapshot, u identity.User) error {
	if rt.client == nil {
		return errNotInitialized
	}
	_, err := rt.client.AddMember(ctx, rt.cfg.AudienceID, audience.AddMemberRequest{
		EmailAddress: u.Email,
		Status:       rt.cfg.ContactStatus,
	})
	return err
}

func (e *Engine) handleUserCreated(ctx context.Context, rt *snapshot, log *slog.Logger, u identity.User) {
	log = log.With("uid", u.UID)
	if rt.client == nil {
		log.Error(errNotInitialized.Message)
		return
	}
	if u.Email == "" {
		log.Info("user has no email, skipping")
		return
	}

	err := e.addUser(ctx, rt, u)
	switch {
	case err == nil:
		log.Info("user added to audience", "audience_id", rt.cfg.AudienceID)
	case audience.IsMemberExists(err):
		log.Info("user already in audience", "audience_id", rt.cfg.AudienceID)
	default:
		log.Error("add user failed", "audience_id", rt.cfg.AudienceID, "error", err)
	}
}

func (e *Engine) handleUserDeleted(ctx context.Context, rt *snapshot, log *slog.Logger, u identity.User) {
	log = log.With("uid", u.UID)
	if rt.client == nil {
		log.Error(errNotInitialized.Message)
		return
	}
	if u.Email == "" {
		log.Info("user has no email, skipping")
		return
	}

	hash := identity.SubscriberHash(u.Email)
	err := rt.retry.Do(ctx, audience.OpDeleteMember, func(ctx context.Context) error {
		return rt.client.DeleteMember(ctx, rt.cfg.AudienceID, hash)
	})
	switch {
	case err == nil:
		log.Info("user removed from audience", "audience_id", rt.cfg.AudienceID, "subscriber_hash", hash)
	case audience.IsMethodNotAllowed(err):
		log.Info("user not in audience", "audience_id", rt.cfg.AudienceID, "subscriber_hash", hash)
	default:
		log.Error("remove user failed", "audience_id", rt.cfg.AudienceID, "subscriber_hash", hash, "error", err)
	}
}

func (e *Engine) handleDocumentWrite(ctx context.Context, rt *snapshot, log *slog.Logger, path string, before, after map[string]any) {
	log = log.With("path", path)
	if rt.client == nil {
		log.Error(errNotInitialized.Message)
		return
	}

	cfg := rt.cfg
	matched := false
	if cfg.MemberTags != nil && config.MatchWatchPath(cfg.MemberTags.WatchPath, path) {
		matched = true
		if err := e.syncMemberTags(ctx, rt, log, before, after); err != nil {
			log.Error("member tags sync failed", "error", err)
		}
	}
	if cfg.MergeFields != nil && config.MatchWatchPath(cfg.MergeFields.WatchPath, path) {
		matched = true
		if err := e.syncMergeFields(ctx, rt, log, before, after); err != nil {
			log.Error("merge fields sync failed", "error", err)
		}
	}
	if cfg.MemberEvents != nil && config.MatchWatchPath(cfg.MemberEvents.WatchPath, path) {
		matched = true
		if err := e.syncMemberEvents(ctx, rt, log, before, after); err != nil {
			log.Error("member events sync failed", "error", err)
		}
	}
	if !matched {
		log.Debug("no feature watches path")
	}
}
