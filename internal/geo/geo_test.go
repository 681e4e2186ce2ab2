package geo

import (
	"testing"

	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
)

func TestPointValidate(t *testing.T) {
	cases := []struct {
		name     string
		point    Point
		wantCode apperrors.Code
	}{
		{name: "valid", point: Point{Lat: 43.65, Long: -79.38}},
		{name: "lat north pole", point: Point{Lat: 90, Long: 0}},
		{name: "long date line", point: Point{Lat: 0, Long: -180}},
		{name: "lat too high", point: Point{Lat: 90.1, Long: 0}, wantCode: apperrors.CodeInvalidCoordinate},
		{name: "lat too low", point: Point{Lat: -90.1, Long: 0}, wantCode: apperrors.CodeInvalidCoordinate},
		{name: "long too high", point: Point{Lat: 0, Long: 180.1}, wantCode: apperrors.CodeInvalidCoordinate},
		{name: "long too low", point: Point{Lat: 0, Long: -180.1}, wantCode: apperrors.CodeInvalidCoordinate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.point.Validate()
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if got := apperrors.CodeOf(err); got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestBoundsValidate(t *testing.T) {
	cases := []struct {
		name     string
		bounds   Bounds
		wantCode apperrors.Code
	}{
		{
			name:   "valid",
			bounds: Bounds{SW: Point{Lat: 43.6, Long: -79.5}, NE: Point{Lat: 43.7, Long: -79.3}},
		},
		{
			name:   "degenerate point region",
			bounds: Bounds{SW: Point{Lat: 43.6, Long: -79.5}, NE: Point{Lat: 43.6, Long: -79.5}},
		},
		{
			name:     "inverted latitude corners",
			bounds:   Bounds{SW: Point{Lat: 43.7, Long: -79.5}, NE: Point{Lat: 43.6, Long: -79.3}},
			wantCode: apperrors.CodeInvalidBounds,
		},
		{
			name:     "inverted longitude corners",
			bounds:   Bounds{SW: Point{Lat: 43.6, Long: -79.3}, NE: Point{Lat: 43.7, Long: -79.5}},
			wantCode: apperrors.CodeInvalidBounds,
		},
		{
			name:     "corner out of range",
			bounds:   Bounds{SW: Point{Lat: -91, Long: 0}, NE: Point{Lat: 0, Long: 1}},
			wantCode: apperrors.CodeInvalidCoordinate,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.bounds.Validate()
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if got := apperrors.CodeOf(err); got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestBoundsContainsIsEdgeInclusive(t *testing.T) {
	bounds := Bounds{SW: Point{Lat: 10, Long: 20}, NE: Point{Lat: 11, Long: 21}}

	if !bounds.Contains(Point{Lat: 10.5, Long: 20.5}) {
		t.Fatal("expected interior point to be contained")
	}
	if !bounds.Contains(bounds.SW) || !bounds.Contains(bounds.NE) {
		t.Fatal("expected corner points to be contained")
	}
	if bounds.Contains(Point{Lat: 9.999, Long: 20.5}) {
		t.Fatal("expected point south of bounds to be excluded")
	}
	if bounds.Contains(Point{Lat: 10.5, Long: 21.001}) {
		t.Fatal("expected point east of bounds to be excluded")
	}
}

func TestBoundsCenterAndSpan(t *testing.T) {
	bounds := Bounds{SW: Point{Lat: 10, Long: 20}, NE: Point{Lat: 12, Long: 26}}

	center := bounds.Center()
	if center.Lat != 11 || center.Long != 23 {
		t.Fatalf("center = %+v, want lat 11 long 23", center)
	}
	latSpan, longSpan := bounds.Span()
	if latSpan != 2 || longSpan != 6 {
		t.Fatalf("span = (%f, %f), want (2, 6)", latSpan, longSpan)
	}
}
