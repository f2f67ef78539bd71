package engine

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/delta"
	"github.com/mailchimp/Firebase/internal/identity"
	"github.com/mailchimp/Firebase/internal/selector"
)

// SyncMemberTags applies the tag delta between prev and next. It is a no-op
// when the feature is not configured or nothing changed.
func (e *Engine) SyncMemberTags(ctx context.Context, prev, next map[string]any) error {
	return e.syncMemberTags(ctx, e.rt.Load(), e.logger, prev, next)
}

// SyncMergeFields applies the merge-field and status delta between prev
// and next.
func (e *Engine) SyncMergeFields(ctx context.Context, prev, next map[string]any) error {
	return e.syncMergeFields(ctx, e.rt.Load(), e.logger, prev, next)
}

// SyncMemberEvents creates one member event per value that appeared in
// next.
func (e *Engine) SyncMemberEvents(ctx context.Context, prev, next map[string]any) error {
	return e.syncMemberEvents(ctx, e.rt.Load(), e.logger, prev, next)
}

func (e *Engine) syncMemberTags(ctx context.Context, rt *snapshot, log *slog.Logger, prev, next map[string]any) error {
	cfg := rt.cfg.MemberTags
	if cfg == nil {
		return nil
	}
	if rt.client == nil {
		return errNotInitialized
	}

	changes := delta.ComputeTagDelta(cfg, prev, next)
	if len(changes) == 0 {
		return nil
	}
	hash, err := subscriber(config.FeatureMemberTags, cfg.SubscriberEmail, prev, next)
	if err != nil {
		return err
	}

	err = rt.retry.Do(ctx, audience.OpUpdateMemberTags, func(ctx context.Context) error {
		return rt.client.UpdateMemberTags(ctx, rt.cfg.AudienceID, hash, changes)
	})
	if err != nil {
		return remoteError(string(config.FeatureMemberTags), audience.OpUpdateMemberTags, err)
	}
	log.Debug("member tags updated", "subscriber_hash", hash, "changes", len(changes))
	return nil
}

func (e *Engine) syncMergeFields(ctx context.Context, rt *snapshot, log *slog.Logger, prev, next map[string]any) error {
	cfg := rt.cfg.MergeFields
	if cfg == nil {
		return nil
	}
	if rt.client == nil {
		return errNotInitialized
	}

	fields, status, err := delta.ComputeFieldDelta(cfg, prev, next)
	if err != nil {
		var ce *delta.ConversionError
		if errors.As(err, &ce) {
			return &RuntimeError{
				Code:    ErrCodeConversion,
				Message: "merge field update abandoned",
				Feature: string(config.FeatureMergeFields),
				Err:     err,
			}
		}
		return err
	}
	if len(fields) == 0 && status == nil {
		return nil
	}
	hash, err := subscriber(config.FeatureMergeFields, cfg.SubscriberEmail, prev, next)
	if err != nil {
		return err
	}

	req := audience.SetMemberRequest{
		EmailAddress: selector.GetString(next, cfg.SubscriberEmail),
		StatusIfNew:  rt.cfg.ContactStatus,
		MergeFields:  fields,
	}
	if status != nil {
		req.Status = status.Status
		req.StatusIfNew = status.StatusIfNew
	}

	err = rt.retry.Do(ctx, audience.OpSetMember, func(ctx context.Context) error {
		return rt.client.SetMember(ctx, rt.cfg.AudienceID, hash, req)
	})
	if err != nil {
		return remoteError(string(config.FeatureMergeFields), audience.OpSetMember, err)
	}
	log.Debug("merge fields updated", "subscriber_hash", hash, "fields", len(fields), "status", req.Status)
	return nil
}

func (e *Engine) syncMemberEvents(ctx context.Context, rt *snapshot, log *slog.Logger, prev, next map[string]any) error {
	cfg := rt.cfg.MemberEvents
	if cfg == nil {
		return nil
	}
	if rt.client == nil {
		return errNotInitialized
	}

	events := delta.ComputeEventDelta(cfg, prev, next)
	if len(events) == 0 {
		return nil
	}
	hash, err := subscriber(config.FeatureMemberEvents, cfg.SubscriberEmail, prev, next)
	if err != nil {
		return err
	}

	// A plain Group, not WithContext: one failed event must not cancel the
	// others.
	var g errgroup.Group
	for _, name := range events {
		g.Go(func() error {
			return rt.retry.Do(ctx, audience.OpCreateMemberEvent, func(ctx context.Context) error {
				return rt.client.CreateMemberEvent(ctx, rt.cfg.AudienceID, hash, name)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return remoteError(string(config.FeatureMemberEvents), audience.OpCreateMemberEvent, err)
	}
	log.Debug("member events created", "subscriber_hash", hash, "events", len(events))
	return nil
}

// subscriber returns the subscriber hash for a transition. The previous
// snapshot wins so a changed address still finds the existing member.
func subscriber(f config.Feature, emailPath string, prev, next map[string]any) (string, error) {
	email := selector.GetString(prev, emailPath)
	if email == "" {
		email = selector.GetString(next, emailPath)
	}
	if email == "" {
		return "", &RuntimeError{
			Code:    ErrCodeNoSubscriberEmail,
			Message: "no subscriber email at " + emailPath,
			Feature: string(f),
		}
	}
	return identity.SubscriberHash(email), nil
}
