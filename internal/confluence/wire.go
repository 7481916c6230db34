package confluence

// JSON shapes of the REST v1 responses. Only the fields we read are mapped.

type links struct {
	Next     string `json:"next"`
	Download string `json:"download"`
	WebUI    string `json:"webui"`
}

type resultPage[T any] struct {
	Results []T   `json:"results"`
	Start   int   `json:"start"`
	Limit   int   `json:"limit"`
	Size    int   `json:"size"`
	Links   links `json:"_links"`
}

type spaceJSON struct {
	Key      string       `json:"key"`
	Name     string       `json:"name"`
	Homepage *contentJSON `json:"homepage"`
}

type contentJSON struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Title  string `json:"title"`
	Space  *struct {
		Key string `json:"key"`
	} `json:"space"`
	Version *struct {
		Number int `json:"number"`
	} `json:"version"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors"`
	Body *struct {
		View *struct {
			Value string `json:"value"`
		} `json:"view"`
	} `json:"body"`
	Extensions *struct {
		MediaType string `json:"mediaType"`
		FileSize  int64  `json:"fileSize"`
	} `json:"extensions"`
	Metadata *struct {
		MediaType string `json:"mediaType"`
	} `json:"metadata"`
	Links links `json:"_links"`
}

func (c *contentJSON) spaceKey() string {
	if c.Space == nil {
		return ""
	}
	return c.Space.Key
}

func (c *contentJSON) parentID() string {
	if len(c.Ancestors) == 0 {
		return ""
	}
	return c.Ancestors[len(c.Ancestors)-1].ID
}

func (c *contentJSON) mediaType() string {
	if c.Extensions != nil && c.Extensions.MediaType != "" {
		return c.Extensions.MediaType
	}
	if c.Metadata != nil {
		return c.Metadata.MediaType
	}
	return ""
}
