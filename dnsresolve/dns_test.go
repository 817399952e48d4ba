package dnsresolve

import (
	"errors"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/reactor"
)

func TestLookupLiteralIPAddressNeedsNoNetwork(t *testing.T) {
	r, err := reactor.New(5 * time.Millisecond)
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	defer r.Close()

	res := New(r)
	var got []AddressInfo
	var gotErr error
	res.Lookup("127.0.0.1", 443, unix.SOCK_STREAM, func(infos []AddressInfo, err error) {
		got, gotErr = infos, err
		r.Stop()
	})

	r.Schedule(2*time.Second, func() { r.Stop() }) // safety net
	r.Run()

	if gotErr != nil {
		t.Fatalf("Lookup on a literal IP returned an error: %v", gotErr)
	}
	if len(got) != 1 {
		t.Fatalf("Lookup = %d results, want 1", len(got))
	}
	if !got[0].IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("IP = %v, want 127.0.0.1", got[0].IP)
	}
	if got[0].Port != 443 {
		t.Fatalf("Port = %d, want 443", got[0].Port)
	}
	if got[0].Family != unix.AF_INET {
		t.Fatalf("Family = %d, want AF_INET", got[0].Family)
	}
}

func TestClassifyDNSError(t *testing.T) {
	err := classify(&net.DNSError{Err: "no such host", IsNotFound: true})
	if err.Code != CodeNotFound {
		t.Fatalf("Code = %d, want CodeNotFound", err.Code)
	}

	err = classify(&net.DNSError{Err: "i/o timeout", IsTimeout: true})
	if err.Code != CodeTimeout {
		t.Fatalf("Code = %d, want CodeTimeout", err.Code)
	}
}

func TestClassifyGenericError(t *testing.T) {
	err := classify(errors.New("boom"))
	if err.Code != CodeUnknown {
		t.Fatalf("Code = %d, want CodeUnknown", err.Code)
	}
	if err.Error() == "" {
		t.Fatal("Error() should not be empty")
	}
}
