package com

import "github.com/rs/xid"

// Uid is a globally unique, sortable id.
type Uid string

const NilUid Uid = ""

func NewUid() Uid { return Uid(xid.New().String()) }

func ValidUid(u Uid) bool { _, err := xid.FromString(string(u)); return err == nil }

func (u Uid) String() string { return string(u) }
func (u Uid) IsEmpty() bool  { return u == NilUid }

// Short returns a shortened version of the id for logs.
func (u Uid) Short() string {
	if len(u) < 7 {
		return string(u)
	}
	return string(u)[:3] + "." + string(u)[len(u)-3:]
}
