package main

import (
	"github.com/giongto35/cloud-meet/pkg/os"
	"github.com/goccy/go-json"
)

// saved is the last reconnection token of the peer.
type saved struct {
	RoomId string `json:"roomId"`
	Token  string `json:"token"`
}

// tokenFile keeps the token between runs, the file is shared
// by peers started with the same path.
type tokenFile struct {
	path string
	lock *os.Flock
}

func newTokenFile(path string) (*tokenFile, error) {
	if path == "" {
		return &tokenFile{}, nil
	}
	lock, err := os.NewFileLock(path)
	if err != nil {
		return nil, err
	}
	return &tokenFile{path: path, lock: lock}, nil
}

// Load returns the saved token of the room, if any.
func (t *tokenFile) Load(roomId string) (token string, err error) {
	if t.path == "" {
		return "", nil
	}
	err = t.lock.With(func() error {
		data, err := os.ReadFile(t.path)
		if err != nil || len(data) == 0 {
			return err
		}
		var s saved
		if err = json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s.RoomId == roomId {
			token = s.Token
		}
		return nil
	})
	return
}

// Save replaces the saved token, an empty token clears it.
func (t *tokenFile) Save(roomId, token string) error {
	if t.path == "" {
		return nil
	}
	var data []byte
	if token != "" {
		var err error
		if data, err = json.Marshal(saved{RoomId: roomId, Token: token}); err != nil {
			return err
		}
	}
	return t.lock.With(func() error { return os.WriteFile(t.path, data, 0600) })
}
