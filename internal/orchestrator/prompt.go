package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"vidflow/internal/domain"
)

const defaultStyle = "cinematic"

// ComposePrompt builds the generation prompt from vehicle attributes. Missing
// attributes are left out rather than rendered empty.
func ComposePrompt(v domain.Vehicle, style string) string {
	if style = strings.TrimSpace(style); style == "" {
		style = defaultStyle
	}

	subject := joinNonEmpty(" ", strings.ToLower(v.Color), yearString(v.Year), v.Make, v.Model, v.Version)
	if subject == "" {
		subject = "car"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A %s promotional video of a %s.", style, subject)

	var details []string
	if v.BodyType != "" {
		details = append(details, strings.ToLower(v.BodyType)+" body")
	}
	if v.FuelType != "" {
		details = append(details, strings.ToLower(v.FuelType)+" engine")
	}
	if v.Transmission != "" {
		details = append(details, strings.ToLower(v.Transmission)+" transmission")
	}
	if v.Mileage > 0 {
		details = append(details, humanize.Comma(int64(v.Mileage))+" km")
	}
	if len(details) > 0 {
		fmt.Fprintf(&b, " Features: %s.", strings.Join(details, ", "))
	}
	b.WriteString(" Smooth camera movement around the vehicle, showroom lighting, no people, no text overlays.")
	return b.String()
}

func yearString(y int) string {
	if y <= 0 {
		return ""
	}
	return fmt.Sprint(y)
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
