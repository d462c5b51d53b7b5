package rpc

import "encoding/json"

// CodeSuccessful is the only envelope code that means success.
const CodeSuccessful = "successful"

// Envelope is the simulator's response wrapper.
type Envelope[T any] struct {
	Data  *T     `json:"data"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Succeeded reports whether Code is "successful".
func (e Envelope[T]) Succeeded() bool {
	return e.Code == CodeSuccessful
}

// empty is the data payload of write operations; its content is ignored.
type empty = json.RawMessage

// Wallet is a funded simulator account.
type Wallet struct {
	Address       string `json:"address"`
	PrivateKeyHex string `json:"privateKeyHex"`
}

// InitialWallets lists the accounts funded at simulator genesis.
type InitialWallets struct {
	InitialWalletWithStake Wallet            `json:"initialWalletWithStake"`
	ShardWallets           map[string]Wallet `json:"shardWallets"`
}

// AccountState is a sparse account override for SetState. Nil fields are
// omitted from the request and left unchanged by the simulator. A nil Keys
// leaves storage alone; an empty non-nil Keys is sent as {}.
type AccountState struct {
	Address         *string           `json:"address,omitempty"`
	Balance         *string           `json:"balance,omitempty"`
	Code            *string           `json:"code,omitempty"`
	RootHash        *string           `json:"rootHash,omitempty"`
	CodeMetadata    *string           `json:"codeMetadata,omitempty"`
	CodeHash        *string           `json:"codeHash,omitempty"`
	DeveloperReward *string           `json:"developerReward,omitempty"`
	OwnerAddress    *string           `json:"ownerAddress,omitempty"`
	Keys            map[string]string `json:"keys,omitempty"`
}

// MarshalJSON keeps an empty Keys map, which omitempty would drop.
func (a AccountState) MarshalJSON() ([]byte, error) {
	type fields AccountState
	out := struct {
		fields
		Keys *map[string]string `json:"keys,omitempty"`
	}{fields: fields(a)}
	if a.Keys != nil {
		out.Keys = &a.Keys
	}
	return json.Marshal(out)
}

// String returns a pointer to s, for filling AccountState fields.
func String(s string) *string { return &s }
