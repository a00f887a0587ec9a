package session

import (
	"encoding/json"
	"strings"
)

// Profile reads and writes the visitor preferences kept next to the
// session id.
type Profile struct {
	st Storage
}

func NewProfile(st Storage) *Profile {
	return &Profile{st: st}
}

func (p *Profile) UserName() string {
	name, _ := p.st.Get(KeyUserName)
	return name
}

func (p *Profile) SetUserName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return p.st.Delete(KeyUserName)
	}
	return p.st.Set(KeyUserName, name)
}

// Wishlist returns the saved product ids. A corrupt value reads as empty.
func (p *Profile) Wishlist() []string {
	raw, ok := p.st.Get(KeyWishlist)
	if !ok || raw == "" {
		return []string{}
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return []string{}
	}
	return ids
}

// ToggleWishlist adds productID if absent and removes it otherwise. It
// reports whether the product is now on the list.
func (p *Profile) ToggleWishlist(productID string) (bool, error) {
	ids := p.Wishlist()
	out := make([]string, 0, len(ids)+1)
	removed := false
	for _, id := range ids {
		if id == productID {
			removed = true
			continue
		}
		out = append(out, id)
	}
	if !removed {
		out = append(out, productID)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return false, err
	}
	if err := p.st.Set(KeyWishlist, string(data)); err != nil {
		return false, err
	}
	return !removed, nil
}
