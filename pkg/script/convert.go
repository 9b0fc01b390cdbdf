package script

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/fire-framework/firecfg/pkg/cfg"
)

// toStarlarkValue converts a Go configuration value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []int:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.MakeInt(item)
		}
		return starlark.NewList(list), nil
	case []float64:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.Float(item)
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]int:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			if err := dict.SetKey(starlark.String(k), starlark.MakeInt(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case *cfg.Params:
		dict := starlark.NewDict(val.Len())
		for _, k := range val.Keys() {
			item, _ := val.Get(k)
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case *cfg.Processor:
		return &processorValue{proc: val}, nil
	case *cfg.OutputFile:
		return &outputFileValue{file: val}, nil
	case cfg.DropKeepRule:
		return &dropKeepValue{rule: val}, nil
	case *cfg.RandomNumberSeedService:
		return &rnssValue{rnss: val}, nil
	case *cfg.ConditionsProvider:
		return &providerValue{cp: val}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go configuration value.
// Handles for configuration objects unwrap to their cfg counterparts.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok || i > math.MaxInt || i < math.MinInt {
			return nil, fmt.Errorf("integer too large")
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *boundList:
		items, err := val.load()
		if err != nil {
			return nil, err
		}
		return fromStarlarkValue(starlark.NewList(items))
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	case *processorValue:
		return val.proc, nil
	case *outputFileValue:
		return val.file, nil
	case *dropKeepValue:
		return val.rule, nil
	case *rnssValue:
		return val.rnss, nil
	case *providerValue:
		return val.cp, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// paramsFromKwargs stores keyword arguments as ordered extra parameters.
func paramsFromKwargs(kwargs []starlark.Tuple) (*cfg.Params, error) {
	params := &cfg.Params{}
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		value, err := fromStarlarkValue(kv[1])
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params.Set(name, value)
	}
	return params, nil
}
