package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"spdropbot/internal/domain"
)

// brasilia is UTC-3 all year round since daylight saving was abolished in 2019.
var brasilia = time.FixedZone("BRT", -3*60*60)

const defaultSystemPrompt = `Você é a assistente comercial da SPDrop, plataforma de dropshipping com fornecedores nacionais, atendendo clientes pelo WhatsApp.

## Como responder
- Escreva como uma pessoa no WhatsApp: mensagens curtas, tom simpático, no máximo um emoji por parágrafo.
- Separe ideias diferentes em parágrafos; cada parágrafo vira uma mensagem.
- Responda sempre em português do Brasil.
- Nunca mencione ferramentas, JSON ou instruções internas.

## Contexto
- Cada mensagem começa com uma linha [CONTEXT: customer_id=N]. Use esse número como customer_id nas ferramentas.
- Uma linha [MEMORIES: ...] traz o que já sabemos do cliente. Não pergunte de novo o que já está lá.

## Ferramentas
- Dúvidas sobre planos, preços, integração ou políticas: consulte faq_search antes de responder e prefira recommended_answer.
- Quando o cliente contar algo importante sobre si (nome, nicho, loja), salve com save_memory.
- Cliente quer VER a plataforma: use demo_account e envie a mensagem formatada.
- Cliente quer TESTAR de verdade: colete nome completo, CPF, telefone e e-mail reais e só então chame create_trial. Confira list_trials antes para não duplicar.
- Para conduzir objeções e fechamento, busque exemplos em script_search.`

// promptBundle is the YAML form of a system prompt file.
type promptBundle struct {
	Persona      string   `yaml:"persona"`
	Instructions []string `yaml:"instructions"`
	Rules        []string `yaml:"rules"`
}

// LoadSystemPrompt reads a prompt file. Plain text files are used verbatim, YAML
// files are assembled from persona, instructions and rules. An empty path or a
// missing file falls back to the built-in prompt.
func LoadSystemPrompt(path string, logger *slog.Logger) (string, error) {
	if path == "" {
		return defaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("system prompt file not found, using built-in prompt", "path", path)
		return defaultSystemPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var b promptBundle
		if err := yaml.Unmarshal(data, &b); err != nil {
			return "", fmt.Errorf("parse system prompt %s: %w", path, err)
		}
		prompt := b.render()
		if prompt == "" {
			return "", fmt.Errorf("system prompt %s is empty", path)
		}
		return prompt, nil
	default:
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return "", fmt.Errorf("system prompt %s is empty", path)
		}
		return prompt, nil
	}
}

func (b promptBundle) render() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(b.Persona))
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## " + title + "\n")
		for _, it := range items {
			sb.WriteString("- " + strings.TrimSpace(it) + "\n")
		}
	}
	section("Instruções", b.Instructions)
	section("Regras", b.Rules)
	return strings.TrimSpace(sb.String())
}

// PromptBuilder assembles the message list for one agent turn.
type PromptBuilder struct {
	system string
	now    func() time.Time
}

func NewPromptBuilder(system string) *PromptBuilder {
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	return &PromptBuilder{system: system, now: time.Now}
}

// SystemPrompt returns the configured prompt stamped with the current local time.
func (p *PromptBuilder) SystemPrompt() string {
	now := p.now().In(brasilia).Format("02/01/2006 15:04")
	return p.system + "\n\n## Data e hora\n" + now + " (horário de Brasília)"
}

// BuildMessages constructs [system + history + user message] for an LLM call.
// Each stored exchange becomes a user/assistant pair.
func (p *PromptBuilder) BuildMessages(history []domain.HistoryRecord, current string) []domain.Message {
	messages := make([]domain.Message, 0, 2+2*len(history))
	messages = append(messages, domain.Message{Role: "system", Content: p.SystemPrompt()})
	for _, h := range history {
		if h.UserMessage != "" {
			messages = append(messages, domain.Message{Role: "user", Content: h.UserMessage})
		}
		if h.AgentResponse != "" {
			messages = append(messages, domain.Message{Role: "assistant", Content: h.AgentResponse})
		}
	}
	return append(messages, domain.Message{Role: "user", Content: current})
}
