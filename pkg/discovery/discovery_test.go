package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance string, port int, txt []string, ips ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{}
	e.Instance = instance
	e.HostName = instance + ".local."
	e.Port = port
	e.Text = txt
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

// scriptedBrowser replays entries and then waits for ctx.
func scriptedBrowser(steps ...func(entries, removed chan *zeroconf.ServiceEntry)) *MDNSBrowser {
	b := NewMDNSBrowser(BrowserConfig{BrowseTimeout: 200 * time.Millisecond})
	b.browse = func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry) error {
		for _, step := range steps {
			step(entries, removed)
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return b
}

func send(e *zeroconf.ServiceEntry) func(entries, removed chan *zeroconf.ServiceEntry) {
	return func(entries, _ chan *zeroconf.ServiceEntry) { entries <- e }
}

func remove(e *zeroconf.ServiceEntry) func(entries, removed chan *zeroconf.ServiceEntry) {
	return func(_, removed chan *zeroconf.ServiceEntry) { removed <- e }
}

var edhocTXT = []string{"rt=core.edhoc", "kid=2b", "suites=2,3"}

func TestServiceTXTRoundTrip(t *testing.T) {
	info := &ServiceInfo{Instance: "device", KID: []byte{0x2b}, Suites: []int{2, 3}}
	strs := TXTRecordsToStrings(EncodeServiceTXT(info))
	assert.Equal(t, []string{"kid=2b", "rt=core.edhoc", "suites=2,3"}, strs)

	txt := StringsToTXTRecords(strs)
	assert.True(t, txt.SupportsEDHOC())
	kid, err := txt.KID()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2b}, kid)
	suites, err := txt.Suites()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, suites)
}

func TestTXTRecordParsing(t *testing.T) {
	txt := StringsToTXTRecords([]string{"rt=core.rd core.edhoc", "flag", "=ignored", "kid=zz", "suites=2,x"})
	assert.True(t, txt.SupportsEDHOC())
	assert.Contains(t, txt, "flag")
	assert.NotContains(t, txt, "")

	_, err := txt.KID()
	assert.Error(t, err)
	_, err = txt.Suites()
	assert.Error(t, err)

	empty := TXTRecordMap{}
	assert.False(t, empty.SupportsEDHOC())
	kid, err := empty.KID()
	assert.NoError(t, err)
	assert.Nil(t, kid)
}

func TestServiceAddress(t *testing.T) {
	tests := []struct {
		name    string
		svc     Service
		want    string
		wantErr bool
	}{
		{"ipv4", Service{Addresses: []string{"192.0.2.1"}, Port: 5684}, "192.0.2.1:5684", false},
		{"ipv6", Service{Addresses: []string{"2001:db8::1"}, Port: 5683}, "[2001:db8::1]:5683", false},
		{"host fallback and default port", Service{Host: "dev.local."}, "dev.local.:5683", false},
		{"nothing", Service{Instance: "x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.svc.Address()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("device"))
	assert.ErrorIs(t, ValidateInstanceName(""), ErrInvalidInstance)
	assert.ErrorIs(t, ValidateInstanceName(string(make([]byte, MaxInstanceNameLen+1))), ErrInvalidInstance)
}

func TestBrowseAggregatesAddresses(t *testing.T) {
	first := entry("device", 5683, edhocTXT, "192.0.2.1")
	second := entry("device", 5683, edhocTXT, "192.0.2.1", "2001:db8::1")
	b := scriptedBrowser(send(first), send(second))
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := b.Browse(ctx)
	require.NoError(t, err)

	svc := <-results
	assert.Equal(t, "device", svc.Instance)
	assert.Equal(t, uint16(5683), svc.Port)
	assert.Equal(t, "device.local.", svc.Host)

	// The second entry is merged, not emitted.
	select {
	case extra, ok := <-results:
		if ok {
			t.Fatalf("unexpected second service %v", extra)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	merged := mergeAddresses([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged)

	left := removeAddresses([]string{"192.0.2.1", "2001:db8::1"}, entry("d", 0, nil, "192.0.2.1"))
	assert.Equal(t, []string{"2001:db8::1"}, left)
}

func TestBrowseForgetsRemovedService(t *testing.T) {
	e := entry("device", 5683, edhocTXT, "192.0.2.1")
	b := scriptedBrowser(send(e), remove(e), send(e))
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := b.Browse(ctx)
	require.NoError(t, err)

	<-results
	// Removal drops the last address, so the next entry is new again.
	select {
	case svc := <-results:
		assert.Equal(t, "device", svc.Instance)
	case <-ctx.Done():
		t.Fatal("service not re-emitted after removal")
	}
}

func TestFind(t *testing.T) {
	plain := entry("printer", 5683, []string{"rt=core.rd"}, "192.0.2.9")
	other := entry("other", 5683, edhocTXT, "192.0.2.2")
	target := entry("device", 5684, edhocTXT, "192.0.2.1")

	t.Run("by instance", func(t *testing.T) {
		b := scriptedBrowser(send(plain), send(other), send(target))
		defer b.Stop()
		svc, err := b.Find(context.Background(), "device")
		require.NoError(t, err)
		addr, err := svc.Address()
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.1:5684", addr)
	})

	t.Run("first edhoc peer", func(t *testing.T) {
		b := scriptedBrowser(send(plain), send(other))
		defer b.Stop()
		svc, err := b.Find(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "other", svc.Instance)
	})

	t.Run("timeout", func(t *testing.T) {
		b := scriptedBrowser(send(plain))
		defer b.Stop()
		_, err := b.Find(context.Background(), "device")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoppedBrowser(t *testing.T) {
	b := scriptedBrowser()
	b.Stop()
	_, err := b.Browse(context.Background())
	assert.True(t, errors.Is(err, ErrBrowserStopped))
}

func TestAdvertiseRejectsBadInstance(t *testing.T) {
	a := NewMDNSAdvertiser(AdvertiserConfig{})
	defer a.Stop()
	err := a.Advertise(context.Background(), &ServiceInfo{})
	assert.ErrorIs(t, err, ErrInvalidInstance)
}
