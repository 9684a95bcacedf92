package osf

import (
	"encoding/json"
	"fmt"
)

// Description is stamped on every node the relay creates.
const Description = "This node was autogenerated by OSF Relay (https://osf-relay.vercel.app/)"

// CategoryData is the OSF node category used for experiment storage.
const CategoryData = "data"

// NodeAttributes is the writable subset of an OSF node.
type NodeAttributes struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Node is a created OSF node.
type Node struct {
	ID    string
	Title string
	// FilesLink is the node's files relationship; empty when OSF omitted it.
	FilesLink string
}

// StorageProvider is one entry of a node's files listing.
type StorageProvider struct {
	ID         string
	Name       string
	Provider   string
	UploadLink string
}

// User is the owner of a personal access token.
type User struct {
	ID       string
	FullName string
}

// link is a JSON:API link, which OSF serialises either as a bare string or
// as an object with an href.
type link struct {
	Href string
}

func (l *link) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case nil:
		l.Href = ""
	case string:
		l.Href = value
	case map[string]any:
		href, _ := value["href"].(string)
		l.Href = href
	default:
		return fmt.Errorf("unexpected link type %T", v)
	}
	return nil
}

type createNodeRequest struct {
	Data struct {
		Type       string         `json:"type"`
		Attributes NodeAttributes `json:"attributes"`
	} `json:"data"`
}

type nodeDocument struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Title string `json:"title"`
		} `json:"attributes"`
		Relationships struct {
			Files struct {
				Links struct {
					Related link `json:"related"`
				} `json:"links"`
			} `json:"files"`
		} `json:"relationships"`
	} `json:"data"`
}

type filesDocument struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Name     string `json:"name"`
			Provider string `json:"provider"`
		} `json:"attributes"`
		Links struct {
			Upload link `json:"upload"`
		} `json:"links"`
	} `json:"data"`
}

type userDocument struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			FullName string `json:"full_name"`
		} `json:"attributes"`
	} `json:"data"`
}

type errorDocument struct {
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}
