package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a parsed TXT record set.
type TXTRecordMap map[string]string

// EncodeServerTXT builds the TXT records of a server.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyServerName: info.Name,
		TXTKeyVersion:    info.Version,
	}
	if info.DefaultQueue != "" {
		txt[TXTKeyDefaultQueue] = info.DefaultQueue
	}
	return txt
}

// DecodeServerTXT parses the TXT records of a server.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	name, ok := txt[TXTKeyServerName]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerName)
	}
	ver, ok := txt[TXTKeyVersion]
	if !ok || ver == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	return &ServerInfo{
		Name:         name,
		Version:      ver,
		DefaultQueue: txt[TXTKeyDefaultQueue],
	}, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value"
// strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
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

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
