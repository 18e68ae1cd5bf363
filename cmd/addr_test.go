package cmd

import (
	"os"
	"testing"
)

func TestParseServeAddr(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		defaultAddr string
		want        string
		wantErr     bool
	}{
		{name: "default from config", args: nil, defaultAddr: "localhost:3400", want: "localhost:3400"},
		{name: "positional overrides default", args: []string{":9000"}, defaultAddr: "localhost:3400", want: ":9000"},
		{name: "double dash flag", args: []string{"--addr", "127.0.0.1:8080"}, defaultAddr: "localhost:3400", want: "127.0.0.1:8080"},
		{name: "single dash flag", args: []string{"-addr", ":7070"}, defaultAddr: ":3400", want: ":7070"},
		{name: "invalid positional", args: []string{"no-port-here"}, defaultAddr: ":3400", wantErr: true},
		{name: "invalid default", args: nil, defaultAddr: "no-port-here", wantErr: true},
		{name: "unknown flag", args: []string{"--listen", ":8080"}, defaultAddr: ":3400", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := os.Args
			t.Cleanup(func() { os.Args = orig })
			os.Args = append([]string{"converso", "serve"}, tt.args...)

			got, err := parseServeAddr(tt.defaultAddr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseServeAddr(%q) = %q, want error", tt.defaultAddr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseServeAddr(%q) unexpected error: %v", tt.defaultAddr, err)
			}
			if got != tt.want {
				t.Errorf("parseServeAddr(%q) = %q, want %q", tt.defaultAddr, got, tt.want)
			}
		})
	}
}

func TestValidateAddr(t *testing.T) {
	valid := []string{
		":8080",
		":0",
		":65535",
		"localhost:3400",
		"127.0.0.1:3400",
		"0.0.0.0:80",
		"[::1]:8080",
		"[::]:9090",
		"api.internal:443",
		"my-host:9090",
	}
	for _, addr := range valid {
		if err := validateAddr(addr); err != nil {
			t.Errorf("validateAddr(%q) = %v, want nil", addr, err)
		}
	}

	invalid := []string{
		"",
		"localhost",  // no port
		"8080",       // port without colon
		"localhost:", // empty port
		":abc",       // non-numeric port
		":-1",
		":65536",
		"my host:8080", // whitespace in host
		"my\thost:8080",
		"my\nhost:8080",
	}
	for _, addr := range invalid {
		if err := validateAddr(addr); err == nil {
			t.Errorf("validateAddr(%q) = nil, want error", addr)
		}
	}
}

func FuzzValidateAddr(f *testing.F) {
	f.Add("localhost:3400")
	f.Add("[::]:0")
	f.Add(":65535")
	f.Add("256.256.256.256:80")
	f.Add("host:port:extra")
	f.Add("::")
	f.Add(" :8080")

	f.Fuzz(func(t *testing.T, addr string) {
		_ = validateAddr(addr) // must not panic
	})
}
