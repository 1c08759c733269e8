// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

// SESEvent is the inbound event envelope SES delivers for a received email.
//
// This struct's JSON shape MUST match the SES "receipt" event format — the
// same payload the Lambda invocation model uses — because SNS forwards it
// verbatim as the notification message body.
type SESEvent struct {
	Records []SESRecord `json:"Records"`
}

// SESRecord is one entry in the event's Records array.
type SESRecord struct {
	SES SESMessage `json:"ses"`
}

// SESMessage carries the mail metadata and the receipt verdicts.
type SESMessage struct {
	Mail    SESMail    `json:"mail"`
	Receipt SESReceipt `json:"receipt"`
}

// SESMail describes the received message itself.
type SESMail struct {
	MessageID string `json:"messageId"`
	Source    string `json:"source"`
}

// SESReceipt describes how SES received and classified the message.
type SESReceipt struct {
	Recipients   []string `json:"recipients"`
	SpamVerdict  Verdict  `json:"spamVerdict"`
	VirusVerdict Verdict  `json:"virusVerdict"`
}

// Verdict is a spam or virus classification attached by SES.
// Status "FAIL" rejects the message; anything else passes through.
type Verdict struct {
	Status string `json:"status"`
}

// VerdictFailed reports whether the verdict is an explicit failure.
func (v Verdict) VerdictFailed() bool {
	return v.Status == "FAIL"
}
