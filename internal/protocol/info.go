package protocol

import "strings"

// Info strings are "\key\value\key\value" blobs carrying userinfo and
// serverinfo. Keys and values never contain a backslash, a semicolon or a
// double quote.

func infoSubValid(s string) bool {
	return !strings.ContainsAny(s, "\\;\"")
}

// InfoValueForKey returns the value stored under key, or "".
func InfoValueForKey(info, key string) string {
	for _, kv := range InfoPairs(info) {
		if kv[0] == key {
			return kv[1]
		}
	}
	return ""
}

// InfoPairs splits an info string into key/value pairs in order. A trailing
// key without a value pairs with "".
func InfoPairs(info string) [][2]string {
	info = strings.TrimPrefix(info, "\\")
	if info == "" {
		return nil
	}
	parts := strings.Split(info, "\\")
	pairs := make([][2]string, 0, (len(parts)+1)/2)
	for i := 0; i < len(parts); i += 2 {
		var kv [2]string
		kv[0] = parts[i]
		if i+1 < len(parts) {
			kv[1] = parts[i+1]
		}
		pairs = append(pairs, kv)
	}
	return pairs
}

// InfoValidate reports whether info is a well formed info string within the
// size limits. The empty string is valid.
func InfoValidate(info string) bool {
	if len(info) >= MaxInfoString {
		return false
	}
	if info == "" {
		return true
	}
	if !strings.HasPrefix(info, "\\") {
		return false
	}
	parts := strings.Split(info[1:], "\\")
	if len(parts)%2 != 0 {
		return false
	}
	for i, p := range parts {
		if strings.ContainsAny(p, ";\"") {
			return false
		}
		for j := 0; j < len(p); j++ {
			if p[j]&127 < 32 {
				return false
			}
		}
		if i%2 == 0 {
			if p == "" || len(p) >= MaxInfoKey {
				return false
			}
		} else if len(p) >= MaxInfoValue {
			return false
		}
	}
	return true
}

// InfoRemoveKey returns info without key.
func InfoRemoveKey(info, key string) string {
	var b strings.Builder
	for _, kv := range InfoPairs(info) {
		if kv[0] == key {
			continue
		}
		b.WriteByte('\\')
		b.WriteString(kv[0])
		b.WriteByte('\\')
		b.WriteString(kv[1])
	}
	return b.String()
}

// InfoSetValueForKey replaces or appends key. An empty value removes the key.
// It returns false, leaving info untouched, when key or value contain a
// reserved character, exceed their limits, or the result would not fit in
// MaxInfoString.
func InfoSetValueForKey(info, key, value string) (string, bool) {
	if key == "" || !infoSubValid(key) || !infoSubValid(value) {
		return info, false
	}
	if len(key) >= MaxInfoKey || len(value) >= MaxInfoValue {
		return info, false
	}
	out := InfoRemoveKey(info, key)
	if value == "" {
		return out, true
	}
	out += "\\" + key + "\\" + value
	if len(out) >= MaxInfoString {
		return info, false
	}
	return out, true
}
