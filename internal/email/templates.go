// Package email renders transactional email bodies for the worker. Templates
// are compiled at init; rendering a known kind cannot fail at runtime.
package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"fieldnotes/internal/types"
)

// templateVars is the data passed into every template. Fields not relevant to
// a given kind are simply unused by it.
type templateVars struct {
	Plan           string
	CreditsGranted string
	BillingURL     string
}

const welcomeSubject = "Welcome to FieldNotes"

const welcomeText = `Your FieldNotes subscription is active.

Plan: {{.Plan}}
Trial credits: {{.CreditsGranted}}

Each credit generates one session note. Your trial credits are available
right away; monthly credits arrive with each billing cycle.
`

const welcomeHTML = `<p>Your FieldNotes subscription is active.</p>
<p><strong>Plan:</strong> {{.Plan}}<br>
<strong>Trial credits:</strong> {{.CreditsGranted}}</p>
<p>Each credit generates one session note. Your trial credits are available
right away; monthly credits arrive with each billing cycle.</p>
`

const paymentFailedSubject = "Action needed: your FieldNotes payment failed"

const paymentFailedText = `We could not process your latest FieldNotes payment.

Your remaining credits are still available, but no new credits will be
granted until payment succeeds. Please update your payment method:

{{.BillingURL}}
`

const paymentFailedHTML = `<p>We could not process your latest FieldNotes payment.</p>
<p>Your remaining credits are still available, but no new credits will be
granted until payment succeeds. Please
<a href="{{.BillingURL}}">update your payment method</a>.</p>
`

var (
	welcomeTextTmpl       = texttemplate.Must(texttemplate.New("welcome_text").Parse(welcomeText))
	welcomeHTMLTmpl       = htmltemplate.Must(htmltemplate.New("welcome_html").Parse(welcomeHTML))
	paymentFailedTextTmpl = texttemplate.Must(texttemplate.New("payment_failed_text").Parse(paymentFailedText))
	paymentFailedHTMLTmpl = htmltemplate.Must(htmltemplate.New("payment_failed_html").Parse(paymentFailedHTML))
)

// Renderer turns queue messages into provider-ready sends.
type Renderer struct {
	// From is the sender identity stamped on every email.
	From types.EmailAddress

	// AppBaseURL is used to build the billing settings link in dunning
	// emails (no trailing slash).
	AppBaseURL string
}

// Render produces the SendInput for one queued message. Unknown kinds return
// an error; the worker acknowledges those instead of retrying.
func (r *Renderer) Render(msg types.EmailMessage) (types.SendInput, error) {
	vars := templateVars{
		Plan:           msg.TemplateData["plan"],
		CreditsGranted: msg.TemplateData["credits_granted"],
		BillingURL:     r.AppBaseURL + "/settings/billing",
	}

	var (
		subject  string
		textTmpl *texttemplate.Template
		htmlTmpl *htmltemplate.Template
	)

	switch msg.Kind {
	case types.EmailWelcome:
		subject = welcomeSubject
		textTmpl = welcomeTextTmpl
		htmlTmpl = welcomeHTMLTmpl
	case types.EmailPaymentFailed:
		subject = paymentFailedSubject
		textTmpl = paymentFailedTextTmpl
		htmlTmpl = paymentFailedHTMLTmpl
	default:
		return types.SendInput{}, fmt.Errorf("unknown email kind %q", msg.Kind)
	}

	var textBuf, htmlBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, vars); err != nil {
		return types.SendInput{}, fmt.Errorf("rendering %s text body: %w", msg.Kind, err)
	}
	if err := htmlTmpl.Execute(&htmlBuf, vars); err != nil {
		return types.SendInput{}, fmt.Errorf("rendering %s html body: %w", msg.Kind, err)
	}

	return types.SendInput{
		To:          msg.Recipient,
		From:        r.From,
		Subject:     subject,
		BodyText:    textBuf.String(),
		BodyHTML:    htmlBuf.String(),
		ReferenceID: msg.MessageID,
	}, nil
}
