package proto

// Error represents an error response.
type Error struct {
	Message string `json:"message"`
}

// Health is the body of the health check endpoint.
type Health struct {
	Status string `json:"status"`
}

// ServerControl is sent to the control endpoint.
type ServerControl struct {
	Command string `json:"command"`
}

// ModelInfo describes one configured model as offered to clients.
type ModelInfo struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Color        string `json:"color,omitempty"`
	Icon         string `json:"icon,omitempty"`
	ProviderID   string `json:"provider_id"`
	ProviderType string `json:"provider_type"`
}
