// SPDX-License-Identifier: MIT

package lms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// StringOrNumber handles JSON fields that can be "abc", "123" or 123.
type StringOrNumber string

func (s *StringOrNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = StringOrNumber(v)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("string or number: invalid json value: %s", string(b))
	}
	if i, err := n.Int64(); err == nil {
		*s = StringOrNumber(strconv.FormatInt(i, 10))
		return nil
	}
	*s = StringOrNumber(n.String())
	return nil
}

// IntOrString handles integer IDs sent as "123" or 123.
type IntOrString int64

func (v *IntOrString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id: invalid string %q", s)
		}
		*v = IntOrString(i)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("id: invalid json value: %s", string(b))
	}
	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("id: not int64: %s", n.String())
		}
		i = int64(f)
	}
	*v = IntOrString(i)
	return nil
}

// FloatOrString handles numeric fields sent as "12.5" or 12.5.
type FloatOrString float64

func (v *FloatOrString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number: invalid string %q", s)
		}
		*v = FloatOrString(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("number: invalid json value: %s", string(b))
	}
	*v = FloatOrString(f)
	return nil
}

// envelope is the common {success, msg, data} wrapper of the mooc API.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    T      `json:"data"`
}

// CourseChapters is the classroom's chapter tree.
type CourseChapters struct {
	Chapters []Chapter `json:"course_chapter"`
}

// Chapter groups sections.
type Chapter struct {
	ID       IntOrString `json:"id"`
	Name     string      `json:"name"`
	Sections []Section   `json:"section_leaf_list"`
}

// Section is a chapter entry; video sections may nest their real leaf.
type Section struct {
	ID         IntOrString    `json:"id"`
	Name       string         `json:"name"`
	LeafType   *int           `json:"leaf_type"`
	SKUID      IntOrString    `json:"sku_id"`
	LeafInfoID IntOrString    `json:"leafinfo_id"`
	Duration   FloatOrString  `json:"duration"`
	VideoID    StringOrNumber `json:"video_id"`
	Leaves     []Leaf         `json:"leaf_list"`
}

// Leaf is a concrete unit under a section.
type Leaf struct {
	ID         IntOrString `json:"id"`
	Name       string      `json:"name"`
	LeafType   *int        `json:"leaf_type"`
	LeafInfoID IntOrString `json:"leafinfo_id"`
}

// LeafData is the per-leaf metadata returned by the leaf info endpoints.
type LeafData struct {
	ID           IntOrString `json:"id"`
	Name         string      `json:"name"`
	UserID       IntOrString `json:"user_id"`
	CourseID     IntOrString `json:"course_id"`
	SKUID        IntOrString `json:"sku_id"`
	UniversityID IntOrString `json:"university_id"`
	ContentInfo  struct {
		Media Media `json:"media"`
	} `json:"content_info"`
}

// Media describes the video asset of a leaf.
type Media struct {
	Duration FloatOrString  `json:"duration"`
	CCID     StringOrNumber `json:"ccid"`
	CCIDAlt  StringOrNumber `json:"cc_id"`
	CC       StringOrNumber `json:"cc"`
	VideoID  StringOrNumber `json:"video_id"`
}

// ContentID returns the first populated content identifier field.
func (m Media) ContentID() string {
	for _, v := range []StringOrNumber{m.CCID, m.CCIDAlt, m.CC, m.VideoID} {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// PlayURL lists the source URLs per quality.
type PlayURL struct {
	PlayURL struct {
		Sources map[string][]string `json:"sources"`
	} `json:"playurl"`
}

// URLs flattens sources in a deterministic quality order.
func (p PlayURL) URLs() []string {
	qualities := make([]string, 0, len(p.PlayURL.Sources))
	for q := range p.PlayURL.Sources {
		qualities = append(qualities, q)
	}
	sort.Strings(qualities)
	var out []string
	for _, q := range qualities {
		out = append(out, p.PlayURL.Sources[q]...)
	}
	return out
}

type dragPermission struct {
	HasDrag bool `json:"has_drag"`
}

type progressEntry struct {
	Rate      FloatOrString `json:"rate"`
	LastPoint FloatOrString `json:"last_point"`
}

type progressReply struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}
