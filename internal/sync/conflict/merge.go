package conflict

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/stevedores/dashboard-sync/internal/models"
)

// Merge combines a local payload with the server's current payload.
//
// Fields only the server has are kept. For fields the local side has, an
// explicit rule wins; otherwise nested objects merge recursively, lists
// take the union and scalars take the local value.
func Merge(local, server models.Payload, rules map[string]FieldRule) models.Payload {
	return mergeMaps(local, server, rules, "")
}

func mergeMaps(local, server map[string]interface{}, rules map[string]FieldRule, prefix string) models.Payload {
	out := make(models.Payload, len(local)+len(server))
	for k, v := range server {
		out[k] = v
	}

	for k, lv := range local {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		sv, onServer := server[k]
		if !onServer {
			out[k] = lv
			continue
		}

		switch rules[path] {
		case FieldLocal:
			out[k] = lv
		case FieldServer:
			out[k] = sv
		case FieldUnion:
			out[k] = unionOrLocal(lv, sv)
		case FieldMax:
			out[k] = pickNumber(lv, sv, func(a, b float64) bool { return a >= b })
		case FieldMin:
			out[k] = pickNumber(lv, sv, func(a, b float64) bool { return a <= b })
		default:
			lm, lok := asMap(lv)
			sm, sok := asMap(sv)
			if lok && sok {
				out[k] = map[string]interface{}(mergeMaps(lm, sm, rules, path))
				continue
			}
			out[k] = unionOrLocal(lv, sv)
		}
	}
	return models.Payload(out).Clone()
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case models.Payload:
		return m, true
	}
	return nil, false
}

// unionOrLocal returns the union of two lists, or the local value when
// either side is not a list.
func unionOrLocal(local, server interface{}) interface{} {
	ll, lok := local.([]interface{})
	sl, sok := server.([]interface{})
	if !lok || !sok {
		return local
	}

	seen := make(map[string]bool, len(ll)+len(sl))
	out := make([]interface{}, 0, len(ll)+len(sl))
	for _, list := range [][]interface{}{ll, sl} {
		for _, v := range list {
			key := elementKey(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func elementKey(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}

// pickNumber returns local when keep(local, server) holds, else server.
// Both sides must be numbers or both RFC 3339 timestamps; anything else
// keeps local.
func pickNumber(local, server interface{}, keep func(a, b float64) bool) interface{} {
	a, aTime, aok := ordinal(local)
	b, bTime, bok := ordinal(server)
	if !aok || !bok || aTime != bTime || keep(a, b) {
		return local
	}
	return server
}

// ordinal maps v onto a comparable number. isTime reports that v was a
// timestamp, measured in nanoseconds since the epoch.
func ordinal(v interface{}) (n float64, isTime bool, ok bool) {
	switch t := v.(type) {
	case time.Time:
		return float64(t.UnixNano()), true, true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return 0, false, false
		}
		return float64(ts.UnixNano()), true, true
	}
	n, ok = toFloat(v)
	return n, false, ok
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
