package website

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "bare origin",
			raw:  "https://example.com",
			want: "https://example.com",
		},
		{
			name: "path and query stripped",
			raw:  "https://example.com/app/page?x=1#frag",
			want: "https://example.com",
		},
		{
			name: "port preserved",
			raw:  "http://localhost:8080/index.html",
			want: "http://localhost:8080",
		},
		{
			name: "host lowercased",
			raw:  "https://Example.COM/page",
			want: "https://example.com",
		},
		{
			name: "surrounding whitespace",
			raw:  "  https://example.com/x  ",
			want: "https://example.com",
		},
		{
			name:    "missing scheme",
			raw:     "example.com/page",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeSameOrigin(t *testing.T) {
	a, err := Normalize("https://example.com/page1?q=1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize("https://example.com/page2")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same-origin URLs map to different domains: %q vs %q", a, b)
	}
}
