package tool

import (
	"context"
	"fmt"
	"strings"
)

// DemoCredentials is the shared read-only account on the SPDrop platform.
type DemoCredentials struct {
	URL      string
	Username string
	Password string
}

// DemoAccountTool hands out the demo login. The demo is for looking around only;
// customers who want to sell go through create_trial instead.
type DemoAccountTool struct {
	creds DemoCredentials
}

func NewDemoAccountTool(creds DemoCredentials) *DemoAccountTool {
	return &DemoAccountTool{creds: creds}
}

func (t *DemoAccountTool) Name() string { return "demo_account" }
func (t *DemoAccountTool) Description() string {
	return "Get the demo account credentials for customers who want to SEE the platform, catalogue or suppliers. " +
		"The demo is not the 7-day trial and must never be connected to a real store. " +
		"Send formatted_message to the customer as is."
}
func (t *DemoAccountTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *DemoAccountTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	if t.creds.URL == "" || t.creds.Username == "" || t.creds.Password == "" {
		return jsonResult(map[string]any{"success": false, "error": "demo account is not configured"})
	}
	return jsonResult(map[string]any{
		"success": true,
		"type":    "demo_account",
		"credentials": map[string]string{
			"site":     t.creds.URL,
			"email":    t.creds.Username,
			"password": t.creds.Password,
		},
		"formatted_message": t.message(),
		"warning":           "demo account only, do not connect it to a real store",
	})
}

func (t *DemoAccountTool) message() string {
	var sb strings.Builder
	sb.WriteString("Perfeito! Vou te passar o acesso à nossa conta de demonstração para você explorar a plataforma e ver nosso catálogo de produtos 😊\n\n")
	sb.WriteString("📱 *Acesso Demonstração:*\n\n")
	fmt.Fprintf(&sb, "🌐 Site: %s\n", t.creds.URL)
	fmt.Fprintf(&sb, "📧 Email: %s\n", t.creds.Username)
	fmt.Fprintf(&sb, "🔑 Senha: %s\n\n", t.creds.Password)
	sb.WriteString("⚠️ *Importante:* esta conta é apenas para você VER como funciona. Não integre com sua loja real!\n\n")
	sb.WriteString("Lá dentro você vai encontrar:\n")
	sb.WriteString("✅ Catálogo completo de produtos\n✅ Fornecedores verificados\n✅ Preços e margens sugeridas\n✅ Como funciona a integração\n\n")
	sb.WriteString("Dá uma olhada e me conta o que achou! Qualquer dúvida, estou aqui 🙌")
	return sb.String()
}
