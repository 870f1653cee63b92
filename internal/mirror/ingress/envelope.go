// Package ingress receives object-change notifications pushed over HTTP(S),
// validates them and dispatches per-record actions into the operation queue.
package ingress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/s3mirror/internal/common"
)

// Envelope types delivered by the pub/sub service.
const (
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
	TypeNotification             = "Notification"
)

// Envelope is the signed outer message of a push delivery.
type Envelope struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	TopicARN         string `json:"TopicArn"`
	Subject          string `json:"Subject"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL"`
	Token            string `json:"Token"`
	UnsubscribeURL   string `json:"UnsubscribeURL"`
}

// ParseEnvelope decodes the request body into an Envelope and checks the
// Type is one the ingress understands.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation, TypeNotification:
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: type %q", common.ErrUnsupportedEnvelope, env.Type)
	}
}

// stringToSign builds the canonical text the provider signed. Key order and
// the inclusion rules are fixed by the provider: notifications sign
// Message/MessageId/Subject/Timestamp/TopicArn/Type, confirmations sign
// Message/MessageId/SubscribeURL/Timestamp/Token/TopicArn/Type.
func (e *Envelope) stringToSign() string {
	var b strings.Builder

	add := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('\n')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	if e.Type == TypeNotification {
		add("Message", e.Message)
		add("MessageId", e.MessageID)
		if e.Subject != "" {
			add("Subject", e.Subject)
		}
		add("Timestamp", e.Timestamp)
		add("TopicArn", e.TopicARN)
		add("Type", e.Type)
		return b.String()
	}

	add("Message", e.Message)
	add("MessageId", e.MessageID)
	add("SubscribeURL", e.SubscribeURL)
	add("Timestamp", e.Timestamp)
	add("Token", e.Token)
	add("TopicArn", e.TopicARN)
	add("Type", e.Type)
	return b.String()
}
