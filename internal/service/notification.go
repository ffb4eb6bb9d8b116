package service

import (
	"encoding/json"
	"fmt"
)

// NotificationKind tells which envelope a webhook body arrived in.
type NotificationKind int

const (
	// NotificationSingle is a bare object: {"txid": "..."}.
	NotificationSingle NotificationKind = iota + 1
	// NotificationBatch is the gateway's list envelope: {"pix": [{...}, ...]}.
	NotificationBatch
)

const batchKey = "pix"

func (k NotificationKind) String() string {
	switch k {
	case NotificationSingle:
		return "single"
	case NotificationBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// NotificationEntry is one charge referenced by a webhook. Status is the
// upstream status the sender claims, if it sent one.
type NotificationEntry struct {
	TxID   string
	Status string
}

// Notification is a parsed webhook body.
type Notification struct {
	Kind    NotificationKind
	Entries []NotificationEntry
}

type rawEntry struct {
	TxID   string `json:"txid"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (r rawEntry) entry() (NotificationEntry, bool) {
	id := r.TxID
	if id == "" {
		id = r.ID
	}
	return NotificationEntry{TxID: id, Status: r.Status}, id != ""
}

// ParseNotification normalizes a webhook body into a Notification. Any body
// from which no txid can be extracted yields ErrMalformedPayload. The txid
// shape is not checked here.
func ParseNotification(raw []byte) (Notification, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Notification{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}

	if list, ok := fields[batchKey]; ok {
		var entries []rawEntry
		if err := json.Unmarshal(list, &entries); err != nil {
			return Notification{}, fmt.Errorf("%w: %q is not a list of objects", ErrMalformedPayload, batchKey)
		}
		if len(entries) == 0 {
			return Notification{}, fmt.Errorf("%w: empty %q list", ErrMalformedPayload, batchKey)
		}

		n := Notification{Kind: NotificationBatch, Entries: make([]NotificationEntry, 0, len(entries))}
		for i, re := range entries {
			e, ok := re.entry()
			if !ok {
				return Notification{}, fmt.Errorf("%w: entry %d has no txid", ErrMalformedPayload, i)
			}
			n.Entries = append(n.Entries, e)
		}
		return n, nil
	}

	var re rawEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	e, ok := re.entry()
	if !ok {
		return Notification{}, fmt.Errorf("%w: no txid", ErrMalformedPayload)
	}
	return Notification{Kind: NotificationSingle, Entries: []NotificationEntry{e}}, nil
}
