package postcall

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/callweave/callweave/internal/session"
)

// dumpChunkBytes caps each transcript dump log line so log shippers that
// truncate long lines still deliver every entry intact.
const dumpChunkBytes = 3500

// Dump flattens the call into a single JSON-ready document: identity fields,
// the final dialog state, and every transcript entry with its timestamp
// rebased to seconds from call start.
func Dump(s *session.Session, endedAt time.Time) map[string]any {
	raw := s.Transcript.Entries()
	entries := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		entry := map[string]any{
			"t":     roundTenth(e.Timestamp.Sub(s.StartedAt).Seconds()),
			"role":  e.Role,
			"state": e.State.String(),
		}
		if e.Role == "tool" {
			entry["name"] = e.Name
			entry["result"] = e.Result
		} else {
			entry["content"] = e.Content
		}
		entries = append(entries, entry)
	}
	return map[string]any{
		"call_sid":    s.CallSID,
		"phone":       s.CallerPhone,
		"final_state": s.State.String(),
		"duration_s":  roundTenth(endedAt.Sub(s.StartedAt).Seconds()),
		"entries":     entries,
	}
}

// ChunkDump splits a dump into log lines of the form
//
//	TRANSCRIPT_DUMP|<i>/<n>|<json>
//
// where each line's JSON stays at or under maxBytes. The first chunk carries
// the header fields alongside its entries; later chunks carry entries only.
// An entry is never split across chunks, so a single oversized entry yields
// an oversized line rather than a torn one. Reassembly is concatenating the
// entries arrays in line order.
func ChunkDump(dump map[string]any, maxBytes int) []string {
	header := make(map[string]any, len(dump))
	for k, v := range dump {
		if k != "entries" {
			header[k] = v
		}
	}
	entries, _ := dump["entries"].([]map[string]any)

	if len(entries) == 0 {
		return []string{"TRANSCRIPT_DUMP|1/1|" + string(jsonBytes(withEntries(header, []map[string]any{})))}
	}

	bareSize := len(`{"entries":[]}`)
	var groups [][]map[string]any
	var current []map[string]any
	size := len(jsonBytes(withEntries(header, []map[string]any{})))
	for _, e := range entries {
		entrySize := len(jsonBytes(e)) + 2
		if len(current) > 0 && size+entrySize > maxBytes {
			groups = append(groups, current)
			current = nil
			size = bareSize
		}
		current = append(current, e)
		size += entrySize
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	lines := make([]string, 0, len(groups))
	for i, g := range groups {
		var payload []byte
		if i == 0 {
			payload = jsonBytes(withEntries(header, g))
		} else {
			payload = jsonBytes(map[string]any{"entries": g})
		}
		lines = append(lines, fmt.Sprintf("TRANSCRIPT_DUMP|%d/%d|%s", i+1, len(groups), payload))
	}
	return lines
}

func withEntries(header map[string]any, entries []map[string]any) map[string]any {
	doc := make(map[string]any, len(header)+1)
	for k, v := range header {
		doc[k] = v
	}
	doc["entries"] = entries
	return doc
}

func jsonBytes(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func roundTenth(x float64) float64 {
	return math.Round(x*10) / 10
}
