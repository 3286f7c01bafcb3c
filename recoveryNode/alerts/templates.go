package alerts

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
)

type messageTemplate struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

func (t messageTemplate) render(vars map[string]string) (Message, error) {
	var msg Message
	if t.subject != nil {
		var buf bytes.Buffer
		if err := t.subject.Execute(&buf, vars); err != nil {
			return msg, fmt.Errorf("failed to render subject: %w", err)
		}
		msg.Subject = buf.String()
	}

	var body bytes.Buffer
	switch {
	case t.html != nil:
		if err := t.html.Execute(&body, vars); err != nil {
			return msg, fmt.Errorf("failed to render body: %w", err)
		}
		msg.HTML = true
	case t.text != nil:
		if err := t.text.Execute(&body, vars); err != nil {
			return msg, fmt.Errorf("failed to render body: %w", err)
		}
	}
	msg.Body = body.String()
	return msg, nil
}

const emailOTPBody = `<!doctype html><meta charset="UTF-8"><title>OTP Verification</title>
<div style="font-family:Arial,sans-serif;max-width:600px;margin:30px auto;text-align:center">
<h2>OTP Verification</h2>
<p>Your one-time password (OTP) for verification is:</p>
<p style="font-size:24px;font-weight:700">{{.otp}}</p>
<p>This OTP is valid for 10 minutes. Do not share this code with anyone.</p>
<p>If you didn't request this, please ignore this email.</p>
</div>`

const emailNotificationBody = `<!doctype html><meta charset="UTF-8"><title>Security Alert</title>
<div style="font-family:Arial,sans-serif;max-width:600px;margin:30px auto">
<h3>{{.header}}</h3>
<pre style="font-family:inherit;white-space:pre-wrap">{{.body}}</pre>
</div>`

func emailTemplates() map[string]messageTemplate {
	return map[string]messageTemplate{
		constant.TemplateOTPVerification: {
			subject: template.Must(template.New("otp_subject").Option("missingkey=zero").Parse(`{{or .subject "Verification code"}}`)),
			html:    htmltemplate.Must(htmltemplate.New("otp_body").Parse(emailOTPBody)),
		},
		constant.TemplateNotification: {
			subject: template.Must(template.New("notification_subject").Option("missingkey=zero").Parse(`{{or .subject "Social Recovery security alert"}}`)),
			html:    htmltemplate.Must(htmltemplate.New("notification_body").Parse(emailNotificationBody)),
		},
	}
}

func smsTemplates() map[string]messageTemplate {
	return map[string]messageTemplate{
		constant.TemplateOTPVerification: {
			text: template.Must(template.New("otp_sms").Parse(`Your verification code for registering your account: {{.otp}}`)),
		},
		constant.TemplateNotification: {
			text: template.Must(template.New("notification_sms").Parse("{{.header}}\n{{.body}}")),
		},
	}
}
