package logger

import "go.uber.org/zap"

// Campos estándar HTTP.

func RequestID(v string) zap.Field  { return zap.String("request_id", v) }
func Method(v string) zap.Field     { return zap.String("method", v) }
func Path(v string) zap.Field       { return zap.String("path", v) }
func Status(v int) zap.Field        { return zap.Int("status", v) }
func DurationMs(v int64) zap.Field  { return zap.Int64("duration_ms", v) }
func Bytes(v int) zap.Field         { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field   { return zap.String("client_ip", v) }

// Campos estándar de negocio.

func AgentID(v string) zap.Field        { return zap.String("agent_id", v) }
func UserID(v string) zap.Field         { return zap.String("user_id", v) }
func InstallationID(v string) zap.Field { return zap.String("installation_id", v) }
func IntentID(v string) zap.Field       { return zap.String("intent_id", v) }
func IntentKind(v string) zap.Field     { return zap.String("intent_kind", v) }

// Campos estándar de sistema.

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// Genéricos.

func String(key, v string) zap.Field   { return zap.String(key, v) }
func Int(key string, v int) zap.Field  { return zap.Int(key, v) }
func Any(key string, v any) zap.Field  { return zap.Any(key, v) }
