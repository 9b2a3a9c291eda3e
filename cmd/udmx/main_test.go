package main

import (
	"testing"

	"github.com/urfave/cli"

	"github.com/ardnew/udmx/pkg"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantChannel uint16
		wantValues  []uint16
		wantErr     error
	}{
		{"single", []string{"3", "255"}, 3, []uint16{255}, nil},
		{"single high value passes through", []string{"0", "256"}, 0, []uint16{256}, nil},
		{"range", []string{"10", "1", "2", "3"}, 10, []uint16{1, 2, 3}, nil},
		{"range high value", []string{"10", "1", "300"}, 0, nil, pkg.ErrBadValue},
		{"missing value", []string{"10"}, 0, nil, pkg.ErrInvalidParameter},
		{"bad channel", []string{"x", "1"}, 0, nil, pkg.ErrInvalidParameter},
		{"negative value", []string{"1", "-1"}, 0, nil, pkg.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, values, err := parseArgs(cli.Args(tt.args))
			if !pkg.Is(err, tt.wantErr) {
				t.Fatalf("parseArgs() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if ch != tt.wantChannel {
				t.Errorf("channel = %d, want %d", ch, tt.wantChannel)
			}
			if len(values) != len(tt.wantValues) {
				t.Fatalf("values = %v, want %v", values, tt.wantValues)
			}
			for i := range values {
				if values[i] != tt.wantValues[i] {
					t.Errorf("values = %v, want %v", values, tt.wantValues)
				}
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		reported, known, want string
	}{
		{"uDMX", "Van Ooijen Technische Informatica", "uDMX"},
		{"", "Van Ooijen Technische Informatica", "Van Ooijen Technische Informatica"},
		{"", "", "?"},
	}
	for _, tt := range tests {
		if got := name(tt.reported, tt.known); got != tt.want {
			t.Errorf("name(%q, %q) = %q, want %q", tt.reported, tt.known, got, tt.want)
		}
	}
}
