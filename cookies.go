package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/go-rod/rod/lib/proto"
)

// cookieStore is the on-disk cookie cache: a JSON file mapping user id to
// the cookie records captured at the end of a previous run. Loaded once per
// process and written once, at the single save path in Session.
type cookieStore struct {
	path  string
	users map[string][]*proto.NetworkCookie
}

// loadCookieStore reads the cache file. A missing file is not an error; it
// just means every user has to log in. A corrupt file is reported along
// with a usable empty store.
func loadCookieStore(path string) (*cookieStore, error) {
	cs := &cookieStore{
		path:  path,
		users: make(map[string][]*proto.NetworkCookie),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cs, nil
	}
	if err != nil {
		return cs, err
	}

	if err := json.Unmarshal(data, &cs.users); err != nil {
		cs.users = make(map[string][]*proto.NetworkCookie)
		return cs, err
	}
	return cs, nil
}

func (cs *cookieStore) Get(user string) []*proto.NetworkCookie {
	return cs.users[user]
}

func (cs *cookieStore) Set(user string, cookies []*proto.NetworkCookie) {
	cs.users[user] = cookies
}

func (cs *cookieStore) Save() error {
	data, err := json.MarshalIndent(cs.users, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0600)
}
