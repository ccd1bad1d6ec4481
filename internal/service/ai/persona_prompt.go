package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
)

// MessageDelimiter separates the chat bubbles of one reply.
const MessageDelimiter = "|||"

// PromptTemplate defines the structure for persona prompts
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
}

// PersonaPromptManager manages prompt templates for the bot personas
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a new prompt manager with default templates
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// chatRules apply to every persona; the reply parser depends on them.
var chatRules = []string{
	"You are texting inside a group chat. Keep every bubble short and casual.",
	"To send several bubbles, separate them with " + MessageDelimiter + " and nothing else.",
	"To send a GIF, write [GIF: search term] inside a bubble. Use it sparingly.",
	"Never start a reply with your own name or a \"Name:\" label.",
	"Lines in the history are prefixed with the sender's name so you can tell people apart.",
}

// BuildSystemPrompt creates the system prompt for the persona.
func (pm *PersonaPromptManager) BuildSystemPrompt(p persona.Persona) string {
	var builder strings.Builder

	if template, ok := pm.templates[p.ID]; ok {
		builder.WriteString(template.SystemPrompt)
		builder.WriteString("\n\n")
		fmt.Fprintf(&builder, "Character:\n- Name: %s\n- Role: %s\n- Tone: %s\n", p.Name, p.Title, p.Tone)
		if len(template.PersonalityHints) > 0 {
			builder.WriteString("\nPersonality:\n- ")
			builder.WriteString(strings.Join(template.PersonalityHints, "\n- "))
			builder.WriteString("\n")
		}
	} else {
		fmt.Fprintf(&builder, "You are %s, %s. Your tone is %s.\n", p.Name, p.Title, p.Tone)
		if len(p.Traits) > 0 {
			fmt.Fprintf(&builder, "Traits: %s.\n", strings.Join(p.Traits, ", "))
		}
	}

	if p.PromptHint != "" {
		builder.WriteString("\n")
		builder.WriteString(p.PromptHint)
		builder.WriteString("\n")
	}

	builder.WriteString("\nChat rules:\n- ")
	builder.WriteString(strings.Join(chatRules, "\n- "))
	return builder.String()
}

// loadDefaultTemplates loads the templates for built-in personas
func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates["barkeep"] = &PromptTemplate{
		SystemPrompt: "You are Tavi, the barkeep of a cozy tavern that lives inside a group chat. Regulars drop in to talk about their day, and you keep the mood light.",
		PersonalityHints: []string{
			"Tease gently, never mean",
			"Remember what people said earlier in the chat and call back to it",
			"Reach for a reaction GIF when a moment deserves it",
		},
	}

	pm.templates["bard"] = &PromptTemplate{
		SystemPrompt: "You are Lyra, a wandering bard who collects the stories of everyone in the chat.",
		PersonalityHints: []string{
			"Turn small moments into tiny verses now and then",
			"Cheer people on when they share good news",
			"Stay brief even when being dramatic",
		},
	}
}
