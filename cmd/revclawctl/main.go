package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL        string
	InternalSecret string
	Bearer         string
	OutFormat      string // "json" | "text"
	HTTP           *http.Client
}

func (c *client) do(method, path string, body []byte, headers map[string]string) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	c := &client{
		BaseURL:        envOr("REVCLAW_URL", "http://localhost:8080"),
		InternalSecret: envOr("REVCLAW_INTERNAL_AUTH_SECRET", ""),
		OutFormat:      envOr("REVCLAW_OUT", "text"),
		HTTP:           &http.Client{Timeout: 30 * time.Second},
	}

	root := &cobra.Command{
		Use:   "revclawctl",
		Short: "CLI de operación para RevClaw",
	}
	root.PersistentFlags().StringVar(&c.BaseURL, "url", c.BaseURL, "URL base del servidor (env REVCLAW_URL)")
	root.PersistentFlags().StringVar(&c.Bearer, "token", "", "Bearer token de agente (rc_at_/rc_rt_)")
	root.PersistentFlags().StringVar(&c.OutFormat, "out", c.OutFormat, "Formato de salida: text | json")

	var scopes string
	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Registra un agente y devuelve secret + claim id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]any{
				"name":             args[0],
				"requested_scopes": strings.Split(scopes, ","),
			})
			status, b, err := c.do(http.MethodPost, "/v1/agents/register", body, nil)
			if err != nil {
				return err
			}
			c.print(status, b)
			return nil
		},
	}
	register.Flags().StringVar(&scopes, "scopes", "projects:publish", "Scopes pedidos, separados por coma")

	var principal string
	claim := &cobra.Command{
		Use:   "claim <claim-id> <agent-id>",
		Short: "Simula el callback interno del bot que consuma un claim (requiere el shared secret)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.InternalSecret == "" {
				return fmt.Errorf("falta REVCLAW_INTERNAL_AUTH_SECRET")
			}
			body, _ := json.Marshal(map[string]any{
				"claim_id":              args[0],
				"agent_id":              args[1],
				"verified_principal_id": principal,
			})
			status, b, err := c.do(http.MethodPost, "/v1/agents/claim", body,
				map[string]string{"X-RevClaw-Internal-Auth": c.InternalSecret})
			if err != nil {
				return err
			}
			c.print(status, b)
			return nil
		},
	}
	claim.Flags().StringVar(&principal, "principal", "", "Telegram user id verificado")
	_ = claim.MarkFlagRequired("principal")

	exchange := &cobra.Command{
		Use:   "exchange <agent-id> <agent-secret> <exchange-code>",
		Short: "Canjea un exchange code por el primer par de tokens",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]string{
				"agent_id":      args[0],
				"agent_secret":  args[1],
				"exchange_code": args[2],
			})
			status, b, err := c.do(http.MethodPost, "/v1/tokens", body, nil)
			if err != nil {
				return err
			}
			c.print(status, b)
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Rota el refresh token pasado con --token",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, b, err := c.do(http.MethodPost, "/v1/tokens/refresh", nil, nil)
			if err != nil {
				return err
			}
			c.print(status, b)
			return nil
		},
	}

	var kind, payload string
	intentCreate := &cobra.Command{
		Use:   "intent-create",
		Short: "Crea un intent (agente autenticado con --token)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]any{
				"kind":    kind,
				"payload": json.RawMessage(payload),
			})
			status, b, err := c.do(http.MethodPost, "/v1/intents", body, nil)
			if err != nil {
				return err
			}
			c.print(status, b)
			return nil
		},
	}
	intentCreate.Flags().StringVar(&kind, "kind", "PROJECT_PUBLISH", "Kind del intent")
	intentCreate.Flags().StringVar(&payload, "payload", "{}", "Payload JSON")

	intentExecute := &cobra.Command{
		Use:   "intent-execute <intent-id>",
		Short: "Ejecuta un intent aprobado con el payload dado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]any{
				"payload": json.RawMessage(payload),
			})
			status, b, err := c.do(http.MethodPost, "/v1/intents/"+args[0]+"/execute", body, nil)
			if err != nil {
				return err
			}
			c.print(status, b)
			return nil
		},
	}
	intentExecute.Flags().StringVar(&payload, "payload", "{}", "Payload JSON (tiene que hashear igual al aprobado)")

	root.AddCommand(register, claim, exchange, refresh, intentCreate, intentExecute)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
