// Package email entrega los magic links de aprobación por correo. El fallo de
// un envío nunca voltea la creación del intent: el link también queda
// disponible en el dashboard.
package email

import (
	"fmt"

	"github.com/revclaw/revclaw/internal/observability/logger"
	"github.com/revclaw/revclaw/internal/util"
)

// Sender es el contrato mínimo de entrega.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// ApprovalLink arma el par de URLs approve/deny para un intent.
func ApprovalLink(baseURL, intentID, approvalToken string) (approveURL, denyURL string) {
	approveURL = fmt.Sprintf("%s/v1/intents/%s/approve?token=%s", baseURL, intentID, approvalToken)
	denyURL = fmt.Sprintf("%s/v1/intents/%s/deny?token=%s", baseURL, intentID, approvalToken)
	return
}

// ApprovalBody arma subject + cuerpos del mail de aprobación.
func ApprovalBody(agentName, kind, approveURL, denyURL string) (subject, html, text string) {
	subject = fmt.Sprintf("Approval needed: %s wants to %s", agentName, kind)
	text = fmt.Sprintf(
		"Your agent %q is requesting approval for %s.\n\nApprove: %s\nDeny: %s\n\nThe link is single-use and expires.",
		agentName, kind, approveURL, denyURL)
	html = fmt.Sprintf(
		`<p>Your agent <b>%s</b> is requesting approval for <code>%s</code>.</p>
<p><a href="%s">Approve</a> &middot; <a href="%s">Deny</a></p>
<p>The link is single-use and expires.</p>`,
		agentName, kind, approveURL, denyURL)
	return
}

// EchoSender loguea el envío en lugar de mandarlo (modo dev). Redacta el
// destinatario; el cuerpo trae el approval token así que no se loguea entero.
type EchoSender struct{}

func (EchoSender) Send(to, subject, _, _ string) error {
	logger.Named("email").Info("echo send",
		logger.String("to", util.MaskEmail(to)),
		logger.String("subject", subject),
	)
	return nil
}
