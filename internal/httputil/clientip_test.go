package httputil

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trust   bool
		want    string
	}{
		{name: "ipv4 with port", remote: "203.0.113.7:40100", want: "203.0.113.7"},
		{name: "ipv6 with port", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "bare address", remote: "203.0.113.7", want: "203.0.113.7"},
		{
			name:    "proxy headers ignored when untrusted",
			remote:  "10.1.0.4:5000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.2", "X-Real-IP": "198.51.100.3"},
			want:    "10.1.0.4",
		},
		{
			name:    "first forwarded hop wins",
			remote:  "10.1.0.4:5000",
			headers: map[string]string{"X-Forwarded-For": " 198.51.100.2 , 10.1.0.9"},
			trust:   true,
			want:    "198.51.100.2",
		},
		{
			name:    "forwarded beats real-ip",
			remote:  "10.1.0.4:5000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.2", "X-Real-IP": "198.51.100.3"},
			trust:   true,
			want:    "198.51.100.2",
		},
		{
			name:    "garbage forwarded falls through to real-ip",
			remote:  "10.1.0.4:5000",
			headers: map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "198.51.100.3"},
			trust:   true,
			want:    "198.51.100.3",
		},
		{
			name:    "garbage headers fall back to peer",
			remote:  "10.1.0.4:5000",
			headers: map[string]string{"X-Forwarded-For": "<script>", "X-Real-IP": "localhost"},
			trust:   true,
			want:    "10.1.0.4",
		},
		{
			name:    "ipv6 forwarded is normalized",
			remote:  "10.1.0.4:5000",
			headers: map[string]string{"X-Forwarded-For": "2001:DB8:0:0::5"},
			trust:   true,
			want:    "2001:db8::5",
		},
		{name: "trusted without headers", remote: "10.1.0.4:5000", trust: true, want: "10.1.0.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/stream/ws", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trust); got != tt.want {
				t.Errorf("ClientIP(trust=%v) = %q, want %q", tt.trust, got, tt.want)
			}
		})
	}
}
