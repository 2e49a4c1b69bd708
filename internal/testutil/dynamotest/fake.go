// Package dynamotest provides an in-memory stand-in for the DynamoDB client
// used by the stores. It understands the small expression grammar the stores
// emit (SET/ADD/REMOVE updates, attribute_(not_)exists and comparison
// conditions joined by AND/OR, single-attribute key conditions) and nothing more.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

// Fake is a goroutine-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]Item
	fail   map[string]error
	Calls  map[string]int
}

// New returns a Fake with the given tables. schema maps table name to its
// key attribute names (partition key first).
func New(schema map[string][]string) *Fake {
	f := &Fake{
		keys:   map[string][]string{},
		tables: map[string]map[string]Item{},
		fail:   map[string]error{},
		Calls:  map[string]int{},
	}
	for t, k := range schema {
		f.keys[t] = k
		f.tables[t] = map[string]Item{}
	}
	return f
}

// FailOn makes every subsequent call of op ("PutItem", "UpdateItem", ...)
// against table return err. An empty table matches any table. A nil err
// clears the failure.
func (f *Fake) FailOn(op, table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op+"/"+table)
		return
	}
	f.fail[op+"/"+table] = err
}

// Seed stores item directly, bypassing conditions.
func (f *Fake) Seed(table string, item Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = copyItem(item)
}

// Items returns a snapshot of every item in table.
func (f *Fake) Items(table string) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyItem(f.tables[table][k]))
	}
	return out
}

// Lookup returns the item stored under key, or nil.
func (f *Fake) Lookup(table string, key Item) Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, key)
	if err != nil {
		return nil
	}
	it, ok := f.tables[table][k]
	if !ok {
		return nil
	}
	return copyItem(it)
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem", *in.TableName); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	cur := f.tables[*in.TableName][k]
	ok, err := evalCondition(in.ConditionExpression, cur, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	f.tables[*in.TableName][k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem", *in.TableName); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[*in.TableName][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem", *in.TableName); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	cur := f.tables[*in.TableName][k]
	ok, err := evalCondition(in.ConditionExpression, cur, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	next, err := applyUpdate(cur, in.Key, deref(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	f.tables[*in.TableName][k] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem", *in.TableName); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	cur := f.tables[*in.TableName][k]
	ok, err := evalCondition(in.ConditionExpression, cur, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	delete(f.tables[*in.TableName], k)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query", *in.TableName); err != nil {
		return nil, err
	}
	parts := strings.SplitN(deref(in.KeyConditionExpression), "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", deref(in.KeyConditionExpression))
	}
	attr := resolveName(strings.TrimSpace(parts[0]), in.ExpressionAttributeNames)
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %s", parts[1])
	}

	keys := make([]string, 0)
	for k, it := range f.tables[*in.TableName] {
		if v, ok := it[attr]; ok && compare(v, want) == 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dyn.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, copyItem(f.tables[*in.TableName][k]))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems", ""); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, errors.New("dynamotest: too many transact items")
	}

	type op struct {
		table string
		key   string
		apply func(cur Item) (Item, error)
	}
	ops := make([]op, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	seen := map[string]bool{}

	for i, ti := range in.TransactItems {
		var (
			table, cond string
			keySrc      Item
			names       map[string]string
			values      Item
			apply       func(cur Item) (Item, error)
		)
		switch {
		case ti.Put != nil:
			p := ti.Put
			table, keySrc, cond, names, values = *p.TableName, p.Item, deref(p.ConditionExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues
			item := p.Item
			apply = func(Item) (Item, error) { return copyItem(item), nil }
		case ti.Update != nil:
			u := ti.Update
			table, keySrc, cond, names, values = *u.TableName, u.Key, deref(u.ConditionExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues
			key, expr := u.Key, deref(u.UpdateExpression)
			apply = func(cur Item) (Item, error) { return applyUpdate(cur, key, expr, names, values) }
		case ti.Delete != nil:
			d := ti.Delete
			table, keySrc, cond, names, values = *d.TableName, d.Key, deref(d.ConditionExpression), d.ExpressionAttributeNames, d.ExpressionAttributeValues
			apply = func(Item) (Item, error) { return nil, nil }
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			table, keySrc, cond, names, values = *c.TableName, c.Key, deref(c.ConditionExpression), c.ExpressionAttributeNames, c.ExpressionAttributeValues
		default:
			return nil, errors.New("dynamotest: empty transact item")
		}
		if err := f.enter("TransactWriteItems", table); err != nil {
			return nil, err
		}
		k, err := f.keyOf(table, keySrc)
		if err != nil {
			return nil, err
		}
		if seen[table+"|"+k] {
			return nil, errors.New("dynamotest: transaction touches the same item twice")
		}
		seen[table+"|"+k] = true

		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		ok, err := evalCondition(&cond, f.tables[table][k], names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
		}
		if apply != nil {
			ops = append(ops, op{table: table, key: k, apply: apply})
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	staged := make([]Item, len(ops))
	for i, o := range ops {
		next, err := o.apply(f.tables[o.table][o.key])
		if err != nil {
			return nil, err
		}
		staged[i] = next
	}
	for i, o := range ops {
		if staged[i] == nil {
			delete(f.tables[o.table], o.key)
			continue
		}
		f.tables[o.table][o.key] = staged[i]
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) enter(op, table string) error {
	f.Calls[op]++
	if err, ok := f.fail[op+"/"+table]; ok {
		return err
	}
	if err, ok := f.fail[op+"/"]; ok {
		return err
	}
	if table != "" {
		if _, ok := f.keys[table]; !ok {
			return &types.ResourceNotFoundException{Message: strPtr("table not found: " + table)}
		}
	}
	return nil
}

func (f *Fake) keyOf(table string, item Item) (string, error) {
	attrs, ok := f.keys[table]
	if !ok {
		return "", &types.ResourceNotFoundException{Message: strPtr("table not found: " + table)}
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, ok := item[a]
		if !ok {
			return "", fmt.Errorf("dynamotest: %s: missing key attribute %s", table, a)
		}
		parts = append(parts, scalar(v))
	}
	return strings.Join(parts, "\x00"), nil
}

var sectionRe = regexp.MustCompile(`\b(SET|ADD|REMOVE)\s`)

func applyUpdate(cur, key Item, expr string, names map[string]string, values Item) (Item, error) {
	next := copyItem(cur)
	if next == nil {
		next = copyItem(key)
	}
	locs := sectionRe.FindAllStringSubmatchIndex(expr, -1)
	for i, loc := range locs {
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		verb := expr[loc[2]:loc[3]]
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, clause := range strings.Split(body, ",") {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			switch verb {
			case "SET":
				lr := strings.SplitN(clause, "=", 2)
				if len(lr) != 2 {
					return nil, fmt.Errorf("dynamotest: bad SET clause %q", clause)
				}
				v, ok := values[strings.TrimSpace(lr[1])]
				if !ok {
					return nil, fmt.Errorf("dynamotest: unsupported SET value %q", lr[1])
				}
				next[resolveName(strings.TrimSpace(lr[0]), names)] = v
			case "ADD":
				fs := strings.Fields(clause)
				if len(fs) != 2 {
					return nil, fmt.Errorf("dynamotest: bad ADD clause %q", clause)
				}
				attr := resolveName(fs[0], names)
				inc, ok := values[fs[1]].(*types.AttributeValueMemberN)
				if !ok {
					return nil, fmt.Errorf("dynamotest: ADD needs a number value")
				}
				base := 0.0
				if n, ok := next[attr].(*types.AttributeValueMemberN); ok {
					base, _ = strconv.ParseFloat(n.Value, 64)
				}
				d, _ := strconv.ParseFloat(inc.Value, 64)
				next[attr] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(base+d, 'f', -1, 64)}
			case "REMOVE":
				delete(next, resolveName(clause, names))
			}
		}
	}
	return next, nil
}

func evalCondition(expr *string, cur Item, names map[string]string, values Item) (bool, error) {
	e := strings.TrimSpace(deref(expr))
	if e == "" {
		return true, nil
	}
	for _, alt := range strings.Split(e, " OR ") {
		all := true
		for _, atom := range strings.Split(alt, " AND ") {
			ok, err := evalAtom(strings.Trim(strings.TrimSpace(atom), "()"), cur, names, values)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalAtom(atom string, cur Item, names map[string]string, values Item) (bool, error) {
	switch {
	case strings.HasPrefix(atom, "attribute_not_exists"):
		_, ok := cur[resolveName(strings.Trim(strings.TrimPrefix(atom, "attribute_not_exists"), "() "), names)]
		return !ok, nil
	case strings.HasPrefix(atom, "attribute_exists"):
		_, ok := cur[resolveName(strings.Trim(strings.TrimPrefix(atom, "attribute_exists"), "() "), names)]
		return ok, nil
	}
	for _, opr := range []string{"<>", "<", ">", "="} {
		idx := strings.Index(atom, " "+opr+" ")
		if idx < 0 {
			continue
		}
		attr := resolveName(strings.TrimSpace(atom[:idx]), names)
		ph := strings.TrimSpace(atom[idx+len(opr)+2:])
		want, ok := values[ph]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value %s", ph)
		}
		got, ok := cur[attr]
		if !ok {
			return false, nil
		}
		c := compare(got, want)
		switch opr {
		case "=":
			return c == 0, nil
		case "<>":
			return c != 0, nil
		case "<":
			return c < 0, nil
		case ">":
			return c > 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", atom)
}

func compare(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		x, _ := strconv.ParseFloat(an.Value, 64)
		y, _ := strconv.ParseFloat(bn.Value, 64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(scalar(a), scalar(b))
}

func scalar(v types.AttributeValue) string {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value
	case *types.AttributeValueMemberN:
		return t.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(t.Value)
	}
	return fmt.Sprintf("%v", v)
}

func resolveName(n string, names map[string]string) string {
	if strings.HasPrefix(n, "#") {
		if r, ok := names[n]; ok {
			return r
		}
	}
	return n
}

func conditionalFailed() error {
	return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
}

func copyItem(in Item) Item {
	if in == nil {
		return nil
	}
	out := make(Item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
