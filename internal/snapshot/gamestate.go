package snapshot

import (
	"errors"

	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/protocol"
)

// Compression failures. Both are fatal to the session: the peer cannot ask
// for a compressed join to be resent.
var (
	ErrGamestateDeflate     = errors.New("deflate() failed on gamestate")
	ErrConfigstringsDeflate = errors.New("deflate() failed on configstrings")
)

const (
	zpacketHeaderLen = 5  // svc_zpacket, short out, short in
	zflushMargin     = 32 // headroom left in a compressed chunk per record
)

func writeConfigstring(w *protocol.Writer, e Entry) {
	w.WriteUint8(protocol.SvcConfigString).
		WriteInt16(int16(e.Index)).
		WriteNullString(e.Value)
}

// WritePlainConfigstrings sends every non-empty configstring as its own
// svc_configstring record, splitting frames between records.
func WritePlainConfigstrings(a *network.Assembler, cs *ConfigStrings) error {
	for _, e := range cs.Entries() {
		if err := a.Reserve(len(e.Value)); err != nil {
			return err
		}
		writeConfigstring(a.Writer(), e)
	}
	return a.Flush(network.MsgReliable | network.MsgClear)
}

// WritePlainBaselines sends every stored baseline as an svc_spawnbaseline
// record holding a forced delta from the zero state.
func WritePlainBaselines(a *network.Assembler, b *Baselines, flags protocol.EntityFlags) error {
	var err error
	b.Each(func(s *protocol.EntityState) {
		if err != nil {
			return
		}
		if err = a.Reserve(0); err != nil {
			return
		}
		a.Writer().WriteUint8(protocol.SvcSpawnBaseline)
		protocol.WriteDeltaEntity(a.Writer(), nil, s, flags|protocol.EntityForce)
	})
	if err != nil {
		return err
	}
	return a.Flush(network.MsgReliable | network.MsgClear)
}

// WriteCompressedGamestate builds a single svc_gamestate holding all
// configstrings and baselines and sends it deflated inside one svc_zpacket.
// The compressed frame must fit the channel's reliable capacity.
func WriteCompressedGamestate(a *network.Assembler, z *Compressor, cs *ConfigStrings, b *Baselines, flags protocol.EntityFlags) error {
	w := a.Writer()
	w.WriteUint8(protocol.SvcGameState)
	for _, e := range cs.Entries() {
		w.WriteInt16(int16(e.Index)).WriteNullString(e.Value)
	}
	w.WriteInt16(protocol.MaxConfigStrings)
	b.Each(func(s *protocol.EntityState) {
		protocol.WriteDeltaEntity(w, nil, s, flags|protocol.EntityForce)
	})
	w.WriteInt16(0)

	if w.Err() != nil {
		w.Reset()
		return ErrGamestateDeflate
	}
	raw := append([]byte(nil), w.Bytes()...)
	w.Reset()

	job, err := z.Acquire()
	if err != nil {
		return ErrGamestateDeflate
	}
	defer z.Release()

	if err := job.Write(raw); err != nil {
		return ErrGamestateDeflate
	}
	if err := job.Finish(); err != nil {
		return ErrGamestateDeflate
	}
	out := job.Output()
	if len(out)+zpacketHeaderLen > network.ReliableCapacity(a.Channel()) {
		return ErrGamestateDeflate
	}

	w.WriteUint8(protocol.SvcZPacket).
		WriteUint16(uint16(len(out))).
		WriteUint16(uint16(len(raw))).
		WriteBytes(out)
	return a.Flush(network.MsgReliable | network.MsgClear)
}

// WriteCompressedConfigstrings streams the configstrings through the
// compressor, sync-flushing after each record and cutting a new svc_zpacket
// chunk whenever the next record might not fit the packet.
func WriteCompressedConfigstrings(a *network.Assembler, z *Compressor, cs *ConfigStrings) error {
	job, err := z.Acquire()
	if err != nil {
		return ErrConfigstringsDeflate
	}
	defer z.Release()

	avail := a.Channel().MaxPacketLen() - zpacketHeaderLen
	w := a.Writer()

	flush := func() error {
		if err := job.Finish(); err != nil {
			return err
		}
		out := job.Output()
		if len(out) > avail {
			return ErrConfigstringsDeflate
		}
		w.WriteUint8(protocol.SvcZPacket).
			WriteUint16(uint16(len(out))).
			WriteUint16(uint16(job.TotalIn())).
			WriteBytes(out)
		return a.Flush(network.MsgReliable | network.MsgClear)
	}

	for _, e := range cs.Entries() {
		if avail-len(job.Output()) < len(e.Value)+zflushMargin {
			if err := flush(); err != nil {
				return ErrConfigstringsDeflate
			}
			job.Reset()
		}

		writeConfigstring(w, e)
		if w.Err() != nil {
			w.Reset()
			return ErrConfigstringsDeflate
		}
		err := job.Write(w.Bytes())
		w.Reset()
		if err != nil {
			return ErrConfigstringsDeflate
		}
		if err := job.SyncFlush(); err != nil || len(job.Output()) > avail {
			return ErrConfigstringsDeflate
		}
	}

	if err := flush(); err != nil {
		return ErrConfigstringsDeflate
	}
	return nil
}
