// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package message

// This file provides the common data objects used by the rest of the
// program.

import (
	"strings"
	"time"
)

// ID defines the properties that uniquely identify a message.
type ID struct {
	// The permanent and unique ID of a message in the provider's
	// storage system.
	PermID string

	// The permanent and unique ID of the thread associated with
	// the message.  May be empty in storage systems that do not
	// support this concept.
	ThreadID string
}

// Page is one page of a listing call: the message identifiers it
// contained plus the continuation token for the next page, empty when
// no page follows.
type Page struct {
	IDs           []ID
	NextPageToken string
}

// Header is a single RFC 822 message header.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list.  Lookups are case-insensitive;
// the first header with a given name wins.
type Headers []Header

func (hs Headers) Get(name string) string {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Part is one node of a MIME payload tree.  Data holds the body of
// this part base64url-encoded, as delivered by the provider, and may
// be empty for container parts.
type Part struct {
	MimeType string
	Data     string
	Parts    []*Part
}

// Detail is the raw hydrated form of a message as returned by a
// detail (format=full) call, before normalization.
type Detail struct {
	ID

	Headers  Headers
	LabelIDs []string
	Snippet  string
	Payload  *Part

	// InternalDate is the provider's receive timestamp in epoch
	// milliseconds, zero when the provider does not report one.
	InternalDate int64
}

// Message is the canonical normalized unit handed to scoring and
// reply composition.
type Message struct {
	ID

	Subject string
	Sender  string

	// Date is the receive time normalized to UTC.  Always
	// non-zero: an unparsable Date header degrades to the
	// hydration time.
	Date time.Time

	Snippet string
	Labels  []string

	Unread    bool
	Starred   bool
	Important bool

	// CcOnly reports that the user appears only as a copy
	// recipient: a Cc header is present and no To header names
	// them.
	CcOnly bool

	// ThreadSize is the number of messages in the containing
	// thread, at least 1.  A failed thread lookup degrades to 1.
	ThreadSize int

	BodyText string
	BodyHTML string

	To string
	Cc string
}

// HasLabel reports whether the provider attached the given label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}
