package discovery

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerTXTRoundTrip(t *testing.T) {
	info := &ServerInfo{Name: "svr", Version: "1.0", DefaultQueue: "workq"}
	strs := TXTRecordsToStrings(EncodeServerTXT(info))
	assert.Equal(t, []string{"Q=workq", "SN=svr", "VER=1.0"}, strs)

	got, err := DecodeServerTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestDecodeServerTXTMissingFields(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
	}{
		{"no name", TXTRecordMap{TXTKeyVersion: "1.0"}},
		{"empty name", TXTRecordMap{TXTKeyServerName: "", TXTKeyVersion: "1.0"}},
		{"no version", TXTRecordMap{TXTKeyServerName: "svr"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerTXT(tt.txt)
			assert.ErrorIs(t, err, ErrMissingRequired)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"SN=svr", "flag", "", "K=a=b"})
	assert.Equal(t, TXTRecordMap{"SN": "svr", "flag": "", "K": "a=b"}, txt)
}

func TestServiceEntryConversion(t *testing.T) {
	e := &ServiceEntry{
		Instance: "svr",
		Host:     "head.local.",
		Port:     15001,
		Text:     []string{"SN=svr", "VER=1.0"},
		Addrs:    []string{"192.168.1.10", "fe80::1"},
	}
	svc, err := e.ToServerService()
	require.NoError(t, err)
	assert.Equal(t, "svr", svc.Name)
	assert.Equal(t, uint16(15001), svc.Port)
	assert.Equal(t, "192.168.1.10:15001", svc.Addr())

	svc.Addresses = nil
	assert.Equal(t, "head.local.:15001", svc.Addr())

	e.Text = []string{"VER=1.0"}
	_, err = e.ToServerService()
	assert.ErrorIs(t, err, ErrMissingRequired)
}

func TestServerServiceAddrIPv6(t *testing.T) {
	svc := &ServerService{Port: 15001, Addresses: []string{"fe80::1"}}
	assert.Equal(t, "[fe80::1]:15001", svc.Addr())
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, addrs)

	addrs = removeAddresses(addrs, []string{"a", "c", "z"})
	assert.Equal(t, []string{"b"}, addrs)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("svr"))
	assert.Error(t, ValidateInstanceName(""))
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("x", 64)), ErrInstanceNameTooLong)
}

func TestResolvePassesAddressesThrough(t *testing.T) {
	b := NewBrowser(BrowserConfig{})
	addr, err := b.Resolve(context.Background(), "10.0.0.5:15001")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:15001", addr)
}

func TestAdvertiseRejectsBadName(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	err := a.Advertise(&ServerInfo{Name: strings.Repeat("x", 64)})
	assert.ErrorIs(t, err, ErrInstanceNameTooLong)
	a.Stop()
}
