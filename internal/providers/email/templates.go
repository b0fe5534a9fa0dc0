package email

import "html/template"

// Booking lifecycle templates, keyed by the name the dispatcher passes to
// SendTemplate. Inlined so the provider has no filesystem dependency.
var templates = map[string]*template.Template{
	"booking_confirmed": template.Must(template.New("booking_confirmed").Parse(
		`<p>Your booking for <b>{{.class_name}}</b> on {{.scheduled_at}} is confirmed.</p>`)),
	"booking_waitlisted": template.Must(template.New("booking_waitlisted").Parse(
		`<p>You are on the waitlist for <b>{{.class_name}}</b> on {{.scheduled_at}} at position {{.waitlist_position}}.</p>`)),
	"booking_cancelled": template.Must(template.New("booking_cancelled").Parse(
		`<p>Your booking for <b>{{.class_name}}</b> on {{.scheduled_at}} has been cancelled.</p>`)),
	"waitlist_promoted": template.Must(template.New("waitlist_promoted").Parse(
		`<p>Good news! A spot opened up and your booking for <b>{{.class_name}}</b> on {{.scheduled_at}} is now confirmed.</p>`)),
	"waitlist_offer": template.Must(template.New("waitlist_offer").Parse(
		`<p>A spot opened up in <b>{{.class_name}}</b> on {{.scheduled_at}}. Accept the offer before {{.expires_at}} to claim it.</p>`)),
	"waitlist_offer_expired": template.Must(template.New("waitlist_offer_expired").Parse(
		`<p>Your seat offer for <b>{{.class_name}}</b> on {{.scheduled_at}} has expired.</p>`)),
}

var subjects = map[string]string{
	"booking_confirmed":      "Your class booking is confirmed",
	"booking_waitlisted":     "You're on the waitlist",
	"booking_cancelled":      "Your booking was cancelled",
	"waitlist_promoted":      "You're in! Your waitlisted booking is confirmed",
	"waitlist_offer":         "A spot opened up for you",
	"waitlist_offer_expired": "Your seat offer expired",
}
