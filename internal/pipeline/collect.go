package pipeline

import (
	"context"
	"time"

	"dailybugs-backend/internal/github"
)

// Lookback is how far back a run looks for pushes.
const Lookback = 24 * time.Hour

// EventLister is the part of the GitHub API the collector needs.
type EventLister interface {
	ListPublicEvents(ctx context.Context, token, username string, page int) (github.EventsPage, error)
}

// PushEventPager walks a user's public events page by page, newest first,
// and yields the push events created after the cutoff. It stops requesting
// pages once a page reaches the cutoff or GitHub advertises no next page.
type PushEventPager struct {
	api      EventLister
	token    string
	username string
	cutoff   time.Time
	page     int
	done     bool
}

func NewPushEventPager(api EventLister, token, username string, cutoff time.Time) *PushEventPager {
	return &PushEventPager{api: api, token: token, username: username, cutoff: cutoff}
}

func (p *PushEventPager) Done() bool { return p.done }

// Next fetches one page and returns its in-window push events, which may be
// none. Calling Next after Done returns nil.
func (p *PushEventPager) Next(ctx context.Context) ([]PushEvent, error) {
	if p.done {
		return nil, nil
	}
	p.page++
	page, err := p.api.ListPublicEvents(ctx, p.token, p.username, p.page)
	if err != nil {
		return nil, err
	}

	var out []PushEvent
	reachedCutoff := false
	for _, ev := range page.Events {
		if !ev.CreatedAt.After(p.cutoff) {
			reachedCutoff = true
			continue
		}
		if ev.Type != github.PushEventType {
			continue
		}
		push, err := ev.Push()
		if err != nil {
			return nil, err
		}
		out = append(out, PushEvent{
			Repo:      ev.Repo.Name,
			Ref:       push.Ref,
			Head:      push.Head,
			Before:    push.Before,
			CreatedAt: ev.CreatedAt,
		})
	}
	p.done = reachedCutoff || !page.HasNext || len(page.Events) == 0
	return out, nil
}

// CollectPushEvents drains a PushEventPager, preserving page order.
func CollectPushEvents(ctx context.Context, api EventLister, token, username string, cutoff time.Time) ([]PushEvent, error) {
	pager := NewPushEventPager(api, token, username, cutoff)
	events := []PushEvent{}
	for !pager.Done() {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
	}
	return events, nil
}
