package model

import (
	"encoding/json"
)

// SystemRow is one row of the upstream status feed table. Columns that
// don't map to a known field land in Extra and are flattened into the
// JSON object.
type SystemRow struct {
	System     string
	Status     string
	DSRC       string
	LoginNode  string
	Scheduler  string
	ObservedAt string
	Extra      map[string]string
}

var systemRowKeys = []string{"system", "status", "dsrc", "login_node", "scheduler", "observed_at"}

func (r *SystemRow) field(key string) *string {
	switch key {
	case "system":
		return &r.System
	case "status":
		return &r.Status
	case "dsrc":
		return &r.DSRC
	case "login_node":
		return &r.LoginNode
	case "scheduler":
		return &r.Scheduler
	case "observed_at":
		return &r.ObservedAt
	}
	return nil
}

// Set assigns a column value by its normalized key.
func (r *SystemRow) Set(key, value string) {
	if f := r.field(key); f != nil {
		*f = value
		return
	}
	if r.Extra == nil {
		r.Extra = make(map[string]string)
	}
	r.Extra[key] = value
}

// Get returns a column value by normalized key.
func (r SystemRow) Get(key string) string {
	if f := r.field(key); f != nil {
		return *f
	}
	return r.Extra[key]
}

// MarshalJSON flattens known fields and extras into one object. Empty
// known fields render as null, matching the upstream payload.
func (r SystemRow) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(systemRowKeys)+len(r.Extra))
	for k, v := range r.Extra {
		m[k] = v
	}
	for _, k := range systemRowKeys {
		if v := r.Get(k); v != "" {
			m[k] = v
		} else {
			m[k] = nil
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the flattened form written by MarshalJSON.
func (r *SystemRow) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = SystemRow{}
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r.Set(k, s)
	}
	return nil
}
