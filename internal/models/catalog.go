package models

type RechargePackage struct {
	ID     string `json:"id"`
	Price  int64  `json:"price"`
	Tokens int64  `json:"tokens"`
	Bonus  int64  `json:"bonus,omitempty"`
}

// Total is the amount credited when the package is bought.
func (p RechargePackage) Total() int64 {
	return p.Tokens + p.Bonus
}

type VoiceTopic struct {
	ID             string `json:"id"`
	Topic          string `json:"topic"`
	Description    string `json:"description"`
	Difficulty     string `json:"difficulty"`
	TokensRequired int64  `json:"tokensRequired"`
	EstimatedTime  string `json:"estimatedTime"`
}

type VideoAgent struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialty      string `json:"specialty"`
	Description    string `json:"description"`
	TokensRequired int64  `json:"tokensRequired"`
}

type LabCatalog struct {
	VoiceTopics []VoiceTopic `json:"voiceTopics"`
	VideoAgents []VideoAgent `json:"videoAgents"`
}

var DefaultRechargePackages = []RechargePackage{
	{ID: "1", Price: 5, Tokens: 50},
	{ID: "2", Price: 10, Tokens: 100, Bonus: 10},
	{ID: "3", Price: 20, Tokens: 200, Bonus: 30},
	{ID: "4", Price: 50, Tokens: 500, Bonus: 100},
}

var DefaultLabCatalog = LabCatalog{
	VoiceTopics: []VoiceTopic{
		{ID: "1", Topic: "English Pronunciation", Description: "Practice speaking English with AI feedback on pronunciation", Difficulty: "Beginner", TokensRequired: 10, EstimatedTime: "15 min"},
		{ID: "2", Topic: "Math Problem Solving", Description: "Solve math problems by explaining your thought process aloud", Difficulty: "Intermediate", TokensRequired: 15, EstimatedTime: "20 min"},
		{ID: "3", Topic: "Science Discussion", Description: "Discuss scientific concepts and get AI-powered explanations", Difficulty: "Advanced", TokensRequired: 20, EstimatedTime: "25 min"},
	},
	VideoAgents: []VideoAgent{
		{ID: "1", Name: "Professor Smith", Specialty: "Mathematics", Description: "Expert in algebra, geometry, and calculus", TokensRequired: 15},
		{ID: "2", Name: "Dr. Johnson", Specialty: "Science", Description: "Specializes in physics, chemistry, and biology", TokensRequired: 15},
		{ID: "3", Name: "Ms. Williams", Specialty: "English", Description: "Language arts expert focusing on grammar, writing, and literature", TokensRequired: 15},
	},
}

const (
	DefaultVoiceTokens int64 = 10
	DefaultVideoTokens int64 = 15
)

// TokensFor prices a session: catalog entries matching the label win, otherwise
// the per-kind default applies.
func (c LabCatalog) TokensFor(kind SessionKind, label string) int64 {
	switch kind {
	case SessionVideo:
		for _, a := range c.VideoAgents {
			if a.Name == label || a.Specialty == label || a.ID == label {
				return a.TokensRequired
			}
		}
		return DefaultVideoTokens
	default:
		for _, v := range c.VoiceTopics {
			if v.Topic == label || v.ID == label {
				return v.TokensRequired
			}
		}
		return DefaultVoiceTokens
	}
}
