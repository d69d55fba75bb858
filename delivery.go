package authcore

import (
	"context"
	"strings"
	"time"
)

const deliveryTimeout = 10 * time.Second

// deliverCode sends an OTP over the challenge channel without blocking
// the login path. Delivery failures are logged; the challenge stays
// live so the caller can request a resend.
func (e *Engine) deliverCode(channel MFAChannel, destination, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		var err error
		switch channel {
		case MFAChannelEmail:
			if e.mailer == nil {
				e.warn("otp email delivery skipped: no mailer configured")
				return
			}
			err = e.mailer.SendOTP(ctx, destination, code)
		case MFAChannelSMS:
			if e.texter == nil {
				e.warn("otp sms delivery skipped: no texter configured")
				return
			}
			err = e.texter.SendOTP(ctx, destination, code)
		default:
			return
		}
		if err != nil {
			e.warn("otp delivery over %s failed: %v", channel, err)
		}
	}()
}

// deliverVerificationNotice nudges unverified accounts after a
// successful login. Advisory only.
func (e *Engine) deliverVerificationNotice(email string) {
	if e.mailer == nil || email == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := e.mailer.SendVerificationNotice(ctx, email); err != nil {
			e.warn("verification notice delivery failed: %v", err)
		}
	}()
}

// maskEmail keeps the first character of the local part and the domain:
// "alice@shop.example" becomes "a***@shop.example".
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// maskPhone keeps only the last two digits.
func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "***"
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
