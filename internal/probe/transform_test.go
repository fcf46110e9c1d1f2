package probe

import (
	"errors"
	"testing"
)

func TestTransformBuild(t *testing.T) {
	tests := []struct {
		name    string
		spec    TransformSpec
		input   string
		want    any
		wantErr bool
	}{
		{"identity default", TransformSpec{}, "  raw  ", "  raw  ", false},
		{"identity explicit", TransformSpec{Name: "identity"}, "raw", "raw", false},
		{"trim", TransformSpec{Name: "trim"}, "  42  \n", "42", false},
		{"parse-int", TransformSpec{Name: "parse-int"}, "  17\n", int64(17), false},
		{"parse-int invalid", TransformSpec{Name: "parse-int"}, "nope", nil, true},
		{"parse-float", TransformSpec{Name: "parse-float"}, "3.5", 3.5, false},
		{"scale-by-constant", TransformSpec{Name: "scale-by-constant", Scale: 2.5}, "4", 10.0, false},
		{"regex-extract with group", TransformSpec{Name: "regex-extract", Pattern: `temp=(\d+)`}, "temp=42C", "42", false},
		{"regex-extract no match", TransformSpec{Name: "regex-extract", Pattern: `temp=(\d+)`}, "no reading", nil, true},
		{"unsupported transform", TransformSpec{Name: "eval-js"}, "x", nil, true},
		{"invalid regex pattern rejected at build", TransformSpec{Name: "regex-extract", Pattern: "("}, "x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transform, buildErr := tt.spec.Build()
			if tt.name == "unsupported transform" || tt.name == "invalid regex pattern rejected at build" {
				if buildErr == nil {
					t.Fatalf("expected Build to fail for %q", tt.spec.Name)
				}
				if !errors.Is(buildErr, ErrUnsupportedTransform) {
					t.Errorf("expected ErrUnsupportedTransform, got %v", buildErr)
				}
				return
			}
			if buildErr != nil {
				t.Fatalf("Build returned unexpected error: %v", buildErr)
			}

			got, err := transform(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("transform(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("transform(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}
