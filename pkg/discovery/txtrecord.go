package discovery

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServiceTXT creates the TXT records advertised for info.
func EncodeServiceTXT(info *ServiceInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyResourceType: ResourceTypeEDHOC}
	if len(info.KID) > 0 {
		txt[TXTKeyKID] = hex.EncodeToString(info.KID)
	}
	if len(info.Suites) > 0 {
		parts := make([]string, len(info.Suites))
		for i, s := range info.Suites {
			parts[i] = strconv.Itoa(s)
		}
		txt[TXTKeySuites] = strings.Join(parts, ",")
	}
	return txt
}

// SupportsEDHOC reports whether the peer advertises the EDHOC resource.
func (t TXTRecordMap) SupportsEDHOC() bool {
	for _, rt := range strings.Fields(t[TXTKeyResourceType]) {
		if rt == ResourceTypeEDHOC {
			return true
		}
	}
	return false
}

// KID returns the advertised credential kid, or nil when absent.
func (t TXTRecordMap) KID() ([]byte, error) {
	v, ok := t[TXTKeyKID]
	if !ok {
		return nil, nil
	}
	kid, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", TXTKeyKID, err)
	}
	return kid, nil
}

// Suites returns the advertised cipher suites.
func (t TXTRecordMap) Suites() ([]int, error) {
	v := t[TXTKeySuites]
	if v == "" {
		return nil, nil
	}
	var suites []int
	for _, part := range strings.Split(v, ",") {
		s, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", TXTKeySuites, v)
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// TXTRecordsToStrings formats the map as sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings. A key without "=" maps
// to the empty string.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
