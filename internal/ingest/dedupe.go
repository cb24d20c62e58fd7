package ingest

import (
	"time"

	"agenttrace/internal/trace"
)

// Dedup windows. A format that reports the same utterance on two channels
// rarely does so more than a few seconds apart; the same channel re-delivers
// almost immediately. Heuristics tuned against recorded transcripts — they
// are constants here so a future format can argue for different values.
const (
	SameChannelWindow  = 2 * time.Second
	CrossChannelWindow = 12 * time.Second
)

// AppendMessage appends a message or thinking event to the accumulated
// timeline, applying cross-channel deduplication. The event's channel is read
// from its "channel" attribute; authoritative marks the format's primary
// channel. Any other event kind appends unconditionally.
//
// Rules: an arrival equivalent to a same-channel same-kind event within
// ±SameChannelWindow is suppressed (re-delivery). An authoritative arrival
// removes every equivalent fallback-channel same-kind event within
// ±CrossChannelWindow already in the list. A fallback arrival equivalent to
// an authoritative event already present within the cross-channel window is
// suppressed. The result is one canonical event per logical utterance,
// attributed to the authoritative channel whenever it reported it.
func AppendMessage(events []trace.Event, ev trace.Event, authoritative bool) []trace.Event {
	if !dedupable(ev) {
		return append(events, ev)
	}
	norm := NormalizeText(ev.Text())
	if norm == "" {
		return append(events, ev)
	}

	channel := ev.Attr(trace.AttrChannel)

	for i := range events {
		prior := &events[i]
		if prior.Type != ev.Type {
			continue
		}
		sameChannel := prior.Attr(trace.AttrChannel) == channel
		switch {
		case sameChannel:
			if withinWindow(prior.Timestamp, ev.Timestamp, SameChannelWindow) &&
				equivalentNormalized(NormalizeText(prior.Text()), norm) {
				return events
			}
		case !authoritative:
			if withinWindow(prior.Timestamp, ev.Timestamp, CrossChannelWindow) &&
				equivalentNormalized(NormalizeText(prior.Text()), norm) {
				return events
			}
		}
	}

	if authoritative {
		kept := events[:0]
		for _, prior := range events {
			if prior.Type == ev.Type &&
				prior.Attr(trace.AttrChannel) != channel &&
				withinWindow(prior.Timestamp, ev.Timestamp, CrossChannelWindow) &&
				equivalentNormalized(NormalizeText(prior.Text()), norm) {
				continue
			}
			kept = append(kept, prior)
		}
		events = kept
	}

	return append(events, ev)
}

// dedupable reports whether the event kind participates in cross-channel
// deduplication. Tool calls and results are correlated by id, never by text.
func dedupable(ev trace.Event) bool {
	return ev.IsMessage() || ev.Type == trace.EventThinking
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
