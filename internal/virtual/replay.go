package virtual

// replay sends the captured device inventory to one client: the local
// node identity, every known node, the channel table, the raw config
// fragments heard during capture, device metadata, and finally a
// config-complete sentinel echoing the client's own want-config id.
func (c *client) replay(wantConfigID uint32) {
	codec := c.server.codec
	store := c.server.store

	push := func(payload []byte, err error, what string) {
		if err != nil {
			c.logger.Warn("replay record failed", "record", what, "error", err)

			return
		}
		c.send(payload)
	}

	myInfo, err := codec.EncodeMyInfoRecord(store.LocalNodeNum())
	push(myInfo, err, "my_info")

	for _, node := range store.Nodes() {
		record, err := codec.EncodeNodeInfoRecord(node)
		push(record, err, "node_info")
	}

	for _, channel := range store.Channels() {
		record, err := codec.EncodeChannelRecord(channel)
		push(record, err, "channel")
	}

	for _, fragment := range c.server.gateway.ConfigFragments() {
		c.send(fragment)
	}

	if metadata, ok := store.DeviceMetadata(); ok {
		record, err := codec.EncodeMetadataRecord(metadata)
		push(record, err, "metadata")
	}

	sentinel, err := codec.EncodeConfigCompleteRecord(wantConfigID)
	push(sentinel, err, "config_complete")

	c.logger.Debug("replay complete", "want_config_id", wantConfigID, "nodes", store.NodeCount())
}
