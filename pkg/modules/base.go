package modules

import (
	"fmt"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// requireParams checks that every name in required is present (and
// non-nil) in params, returning a ValidationError naming the first
// missing one.
func requireParams(params map[string]interface{}, required []string) error {
	for _, name := range required {
		if v, ok := params[name]; !ok || v == nil {
			return &types.ValidationError{Field: name, Message: "required parameter is missing"}
		}
	}
	return nil
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// mustConnection fetches mctx.Connection or reports a clear error; every
// NativeTransport/RemoteCommand module needs one.
func mustConnection(mctx types.ModuleContext) (types.Connection, error) {
	if mctx.Connection == nil {
		return nil, fmt.Errorf("module requires a connection but none was provided")
	}
	return mctx.Connection, nil
}
