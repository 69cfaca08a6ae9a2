package server

// AgentCard describes this agent to A2A clients: identity, declared
// skills, and the JSON-RPC method signatures the server answers to.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills"`
	Signatures         []Signature  `json:"signatures"`
}

type Capabilities struct {
	Streaming bool `json:"streaming"`
}

type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples"`
}

type Signature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

// NewAgentCard builds the card advertised at the well-known endpoint.
func NewAgentCard(url string) AgentCard {
	skill := Skill{
		ID:          "expertise",
		Name:        "Financial expertise",
		Description: "Responds to financial questions",
		Tags:        []string{"finance", "purple"},
		Examples: []string{
			"What was Apple's revenue in Q4 2024?",
			"Who is the CFO of Microsoft?",
		},
	}

	// Standard A2A JSON-RPC method signatures.
	methods := []string{"message/send", "message/stream", "tasks/get", "tasks/cancel"}
	signatures := make([]Signature, len(methods))
	for i, m := range methods {
		signatures[i] = Signature{Protected: "false", Signature: m}
	}

	return AgentCard{
		Name:               "Finance Purple Agent",
		Description:        "Purple agent for the finance agentic benchmark",
		URL:                url,
		Version:            "0.1.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       Capabilities{Streaming: true},
		Skills:             []Skill{skill},
		Signatures:         signatures,
	}
}
