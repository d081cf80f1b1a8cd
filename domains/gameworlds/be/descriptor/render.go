package descriptor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Phase one tokens are known before the registry insert.
const (
	TokenPaymentsDisabled = "[PAYMENT_FEATURES_TOTALLY_DISABLED]"
	TokenTitle            = "[TITLE]"
	TokenGameWorldURL     = "[GAME_WORLD_URL]"
	TokenServerName       = "[GAME_SERVER_NAME]"
	TokenDatabaseHost     = "[DATABASE_HOST]"
	TokenDatabaseName     = "[DATABASE_DATABASE]"
	TokenDatabaseUser     = "[DATABASE_USERNAME]"
	TokenDatabasePassword = "[DATABASE_PASSWORD]"
)

// Phase two tokens need the registry-assigned unique id.
const (
	TokenWorldID           = "[SETTINGS_WORLD_ID]"
	TokenWorldUniqueID     = "[SETTINGS_WORLD_UNIQUE_ID]"
	TokenGameSpeed         = "[GAME_SPEED]"
	TokenGameStartTime     = "[GAME_START_TIME]"
	TokenGameRoundLength   = "[GAME_ROUND_LENGTH]"
	TokenSecureHash        = "[SECURE_HASH_CODE]"
	TokenAutoReinstall     = "[AUTO_REINSTALL]"
	TokenAutoReinstallWait = "[AUTO_REINSTALL_START_AFTER]"
	TokenEngineFilename    = "[ENGINE_FILENAME]"
)

// TokenIsDev marks a development world in include/env.yaml.
const TokenIsDev = "[IS_DEV]"

// PhaseOneTokens and PhaseTwoTokens list every token the descriptor template may carry.
var (
	PhaseOneTokens = []string{
		TokenPaymentsDisabled, TokenTitle, TokenGameWorldURL, TokenServerName,
		TokenDatabaseHost, TokenDatabaseName, TokenDatabaseUser, TokenDatabasePassword,
	}
	PhaseTwoTokens = []string{
		TokenWorldID, TokenWorldUniqueID, TokenGameSpeed, TokenGameStartTime, TokenGameRoundLength,
		TokenSecureHash, TokenAutoReinstall, TokenAutoReinstallWait, TokenEngineFilename,
	}
)

// Values maps template tokens to typed values. Strings are emitted as double-quoted
// scalars so credentials containing ':', '#' or quotes cannot change the document shape,
// with '[' escaped so a value never reads as a token in a later pass.
// Integers and booleans are emitted bare.
type Values map[string]any

// Render substitutes every token of values in template.
func Render(template string, values Values) (string, error) {
	tokens := make([]string, 0, len(values))
	for token := range values {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	pairs := make([]string, 0, 2*len(values))
	for _, token := range tokens {
		lit, err := literal(values[token])
		if err != nil {
			return "", fmt.Errorf("token %s: %w", token, err)
		}
		pairs = append(pairs, token, lit)
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return strings.ReplaceAll(string(b), "[", `\x5B`), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Unresolved lists the known tokens still present in a rendered document.
func Unresolved(rendered string) []string {
	var out []string
	for _, group := range [][]string{PhaseOneTokens, PhaseTwoTokens} {
		for _, token := range group {
			if strings.Contains(rendered, token) {
				out = append(out, token)
			}
		}
	}
	return out
}

// NewSecureHash returns a fresh installation secret: hex(sha256(32 random bytes)).
func NewSecureHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
